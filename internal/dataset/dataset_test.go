package dataset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnvrt/convnet/internal/dataset"
)

func xorSource() dataset.SliceSource {
	return dataset.SliceSource{
		Inputs: [][]float32{
			{0, 0}, {0, 1}, {1, 0}, {1, 1},
		},
		Targets: dataset.OneHotEncode([]int{0, 1, 1, 0}, 2),
	}
}

func TestNewRejectsEmptySource(t *testing.T) {
	_, err := dataset.New(dataset.SliceSource{}, 2, false, 1)
	assert.Error(t, err)
}

func TestNewRejectsNonPositiveBatchSize(t *testing.T) {
	_, err := dataset.New(xorSource(), 0, false, 1)
	assert.Error(t, err)
}

func TestNextBatchCoversAllSamplesOrdered(t *testing.T) {
	d, err := dataset.New(xorSource(), 3, false, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, d.NumBatches())

	x1, y1, ok := d.NextBatch()
	require.True(t, ok)
	assert.Equal(t, 3, x1.Shape().N)
	assert.Equal(t, 3, y1.Shape().N)
	assert.Equal(t, []float32{0, 0, 0, 1, 1, 0}, x1.Data())

	x2, _, ok := d.NextBatch()
	require.True(t, ok)
	assert.Equal(t, 1, x2.Shape().N) // short final batch

	_, _, ok = d.NextBatch()
	assert.False(t, ok)
}

func TestResetRewindsOrderedDataset(t *testing.T) {
	d, err := dataset.New(xorSource(), 4, false, 1)
	require.NoError(t, err)

	x1, _, ok := d.NextBatch()
	require.True(t, ok)
	first := append([]float32(nil), x1.Data()...)

	_, _, ok = d.NextBatch()
	require.False(t, ok)

	d.Reset()
	x2, _, ok := d.NextBatch()
	require.True(t, ok)
	assert.Equal(t, first, x2.Data())
}

func TestShuffledDatasetStillCoversEverySample(t *testing.T) {
	d, err := dataset.New(xorSource(), 4, true, 42)
	require.NoError(t, err)

	x, _, ok := d.NextBatch()
	require.True(t, ok)

	seen := make(map[[2]float32]bool)
	data := x.Data()
	for i := 0; i < 4; i++ {
		seen[[2]float32{data[i*2], data[i*2+1]}] = true
	}
	assert.Len(t, seen, 4)
}
