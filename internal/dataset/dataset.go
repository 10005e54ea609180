// Package dataset streams (input, target) sample pairs to a trainer in
// fixed-size mini-batches, on demand rather than pre-materializing every
// batch, so the source can be larger than memory. It generalizes the
// teacher's datasets.BatchMatrix/OneHotEncode helpers, which batch an
// already-in-memory slice, to an interface a caller can back with disk or
// network-backed storage as well.
package dataset

import (
	"fmt"
	"math/rand"

	"github.com/cnvrt/convnet/internal/tensor"
)

// Sample is one (input, target) pair as flat feature vectors, in the
// layout a network's input/output Shape.CHW() projection expects.
type Sample struct {
	Input  []float32
	Target []float32
}

// Source supplies samples by index. Len is read once at construction time
// so batch counts can be computed without a full scan; At is called once
// per sample per epoch and may hit disk or a network source lazily.
type Source interface {
	Len() int
	At(i int) Sample
}

// SliceSource adapts in-memory parallel input/target slices to Source,
// the equivalent of handing datasets.BatchMatrix a pre-loaded matrix.
type SliceSource struct {
	Inputs  [][]float32
	Targets [][]float32
}

// Len implements Source.
func (s SliceSource) Len() int { return len(s.Inputs) }

// At implements Source.
func (s SliceSource) At(i int) Sample {
	return Sample{Input: s.Inputs[i], Target: s.Targets[i]}
}

// OneHotEncode expands integer class labels into one-hot float32 vectors,
// the float32 generalization of datasets.OneHotEncode.
func OneHotEncode(labels []int, classCount int) [][]float32 {
	out := make([][]float32, len(labels))
	for i, label := range labels {
		vec := make([]float32, classCount)
		vec[label] = 1
		out[i] = vec
	}
	return out
}

// Dataset partitions a Source into fixed-size mini-batches. A training
// dataset (Shuffle true) draws a fresh random permutation every Reset; a
// test/validation dataset (Shuffle false) always iterates in source order,
// matching spec.md §3's "training datasets are restartable and
// reshufflable; test/validation datasets are restartable and ordered."
type Dataset struct {
	source     Source
	batchSize  int
	shuffle    bool
	rng        *rand.Rand
	order      []int
	pos        int
	inputDim   int
	targetDim  int
}

// New builds a Dataset over source, materializing batches of batchSize
// samples (the final batch of an epoch may be short). An empty source or
// a non-positive batch size is an invalid-configuration error, fatal at
// construction per spec.md §7.
func New(source Source, batchSize int, shuffle bool, seed int64) (*Dataset, error) {
	if source.Len() == 0 {
		return nil, fmt.Errorf("dataset: source has no samples")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", batchSize)
	}
	first := source.At(0)
	d := &Dataset{
		source:    source,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		inputDim:  len(first.Input),
		targetDim: len(first.Target),
	}
	d.order = make([]int, source.Len())
	for i := range d.order {
		d.order[i] = i
	}
	d.Reset()
	return d, nil
}

// Len returns the total sample count.
func (d *Dataset) Len() int { return d.source.Len() }

// NumBatches returns the number of batches one full epoch yields.
func (d *Dataset) NumBatches() int {
	n := d.source.Len()
	return (n + d.batchSize - 1) / d.batchSize
}

// Reset restarts iteration from the first batch. A shuffled dataset draws
// a fresh permutation; an ordered one simply rewinds.
func (d *Dataset) Reset() {
	d.pos = 0
	if d.shuffle {
		d.rng.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
}

// NextBatch materializes the next mini-batch as a pair of row-major
// tensors shaped (batchSize, inputFeatures, 1, 1) and (batchSize,
// targetFeatures, 1, 1), where batchSize may be shorter than the
// configured size on the final batch of an epoch. ok is false once every
// sample has been consumed; call Reset to start a new epoch.
func (d *Dataset) NextBatch() (x, y *tensor.Tensor, ok bool) {
	n := d.source.Len()
	if d.pos >= n {
		return nil, nil, false
	}
	end := d.pos + d.batchSize
	if end > n {
		end = n
	}
	batch := end - d.pos

	x = tensor.New(tensor.Shape{N: batch, C: d.inputDim, H: 1, W: 1}, tensor.Default)
	y = tensor.New(tensor.Shape{N: batch, C: d.targetDim, H: 1, W: 1}, tensor.Default)
	xd, yd := x.Data(), y.Data()

	for row := 0; row < batch; row++ {
		s := d.source.At(d.order[d.pos+row])
		copy(xd[row*d.inputDim:(row+1)*d.inputDim], s.Input)
		copy(yd[row*d.targetDim:(row+1)*d.targetDim], s.Target)
	}

	d.pos = end
	return x, y, true
}
