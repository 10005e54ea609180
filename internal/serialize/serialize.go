// Package serialize implements the binary model file format of spec.md §6:
// a magic + version header followed by a tagged sequence of layer
// records, terminated by an end marker, plus a non-round-tripping JSON
// metadata sidecar for human inspection. It generalizes the teacher's
// nn/utils.go DumpNeuralNetwork/LoadNeuralNetwork (plain encoding/json,
// authoritative) into a binary-authoritative format: spec.md requires a
// byte-tagged layer stream rather than JSON, so the JSON file here is
// strictly a side document, never read back by LoadGraph.
package serialize

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cnvrt/convnet/internal/layer"
	"github.com/cnvrt/convnet/internal/tensor"
)

// magic identifies a convnet model file; version is the format version
// byte, bumped whenever the record layout changes.
const (
	magic   uint32 = 0x434e4e54 // "CNNT"
	version byte   = 1
)

// endMarker is a layer-kind byte value no real layer.Kind uses, spec.md
// §6's "the file ends with an end-marker record".
const endMarker byte = 0xFF

var activationBytes = map[string]byte{
	"":          0, // no pointwise activation (softmax layer, pooling with none)
	"Sigmoid":   1,
	"Tanh":      2,
	"LeCunTanh": 3,
	"ReLU":      4,
	"LeakyReLU": 5,
	"AbsReLU":   6,
	"Softplus":  7,
	"ELU":       8,
	"Identity":  9,
}

var activationNames = inverse(activationBytes)

var costBytes = map[string]byte{
	"":              0, // non-output/softmax layer
	"Quadratic":     1,
	"CrossEntropy":  2,
	"LogLikelihood": 3,
}

var costNames = inverse(costBytes)

func inverse(m map[string]byte) map[byte]string {
	out := make(map[byte]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// Metadata is the JSON sidecar written alongside a model file, stamped
// with a UUID per spec.md's DOMAIN STACK wiring for google/uuid. It does
// not round-trip: SaveGraph emits it for human inspection only, and
// LoadGraph never reads it.
type Metadata struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	LayerCount int      `json:"layer_count"`
}

// SaveGraph writes modelPath (the binary, authoritative form) and, if
// metaPath is non-empty, a parallel JSON metadata file.
func SaveGraph(layers []layer.Layer, modelPath, metaPath string) error {
	f, err := os.Create(modelPath)
	if err != nil {
		return fmt.Errorf("serialize: create %q: %w", modelPath, err)
	}
	defer f.Close()
	if err := WriteModel(f, layers); err != nil {
		return err
	}

	if metaPath == "" {
		return nil
	}
	meta := Metadata{ID: uuid.NewString(), CreatedAt: time.Now(), LayerCount: len(layers)}
	mf, err := os.Create(metaPath)
	if err != nil {
		return fmt.Errorf("serialize: create %q: %w", metaPath, err)
	}
	defer mf.Close()
	enc := json.NewEncoder(mf)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// LoadGraph reads the binary model at modelPath and reconstructs every
// layer in file order.
func LoadGraph(modelPath string) ([]layer.Layer, error) {
	f, err := os.Open(modelPath)
	if err != nil {
		return nil, fmt.Errorf("serialize: open %q: %w", modelPath, err)
	}
	defer f.Close()
	return ReadModel(f)
}

// WriteModel writes the header, one record per layer, then the end
// marker.
func WriteModel(w io.Writer, layers []layer.Layer) error {
	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return fmt.Errorf("serialize: write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return fmt.Errorf("serialize: write version: %w", err)
	}
	for i, l := range layers {
		if err := writeRecord(w, l.ToRecord()); err != nil {
			return fmt.Errorf("serialize: layer %d: %w", i, err)
		}
	}
	_, err := w.Write([]byte{endMarker})
	return err
}

// ReadModel reads a header, then layer records until the end marker,
// reconstructing concrete layers by kind-byte dispatch. Unknown kind
// bytes are an unrecoverable parse failure, per spec.md §7's "I/O /
// corruption" error kind.
func ReadModel(r io.Reader) ([]layer.Layer, error) {
	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, fmt.Errorf("serialize: read magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("serialize: not a convnet model file (bad magic)")
	}
	var gotVersion byte
	if err := binary.Read(r, binary.LittleEndian, &gotVersion); err != nil {
		return nil, fmt.Errorf("serialize: read version: %w", err)
	}
	if gotVersion != version {
		return nil, fmt.Errorf("serialize: unsupported format version %d", gotVersion)
	}

	var layers []layer.Layer
	for {
		var kindByte [1]byte
		if _, err := io.ReadFull(r, kindByte[:]); err != nil {
			return nil, fmt.Errorf("serialize: read layer-kind byte: %w", err)
		}
		if kindByte[0] == endMarker {
			break
		}
		rec, err := readRecordBody(r, layer.Kind(kindByte[0]))
		if err != nil {
			return nil, fmt.Errorf("serialize: layer %d: %w", len(layers), err)
		}
		l, err := layer.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("serialize: layer %d: %w", len(layers), err)
		}
		layers = append(layers, l)
	}
	return layers, nil
}

func writeShape(w io.Writer, s tensor.Shape) error {
	for _, v := range []int32{int32(s.C), int32(s.H), int32(s.W)} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readShape(r io.Reader) (tensor.Shape, error) {
	var c, h, ww int32
	for _, v := range []*int32{&c, &h, &ww} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return tensor.Shape{}, err
		}
	}
	return tensor.Shape{N: tensor.UnspecifiedN, C: int(c), H: int(h), W: int(ww)}, nil
}

func writeFloats(w io.Writer, data []float32) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(data))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

func readFloats(r io.Reader) ([]float32, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("serialize: negative float count %d", n)
	}
	data := make([]float32, n)
	if n > 0 {
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// writeRecord writes one layer-kind byte, both declared shapes, the
// activation byte, then a kind-specific body, matching spec.md §6's fixed
// field order: "weighted layers store weights first, then biases;
// batch-norm stores weights (γ), biases (β), μ, σ², iteration."
func writeRecord(w io.Writer, r layer.Record) error {
	if err := binary.Write(w, binary.LittleEndian, byte(r.Kind)); err != nil {
		return err
	}
	if err := writeShape(w, r.InputShape); err != nil {
		return err
	}
	if err := writeShape(w, r.OutputShape); err != nil {
		return err
	}
	actByte, ok := activationBytes[r.ActivationName]
	if !ok {
		return fmt.Errorf("serialize: unknown activation %q", r.ActivationName)
	}
	if err := binary.Write(w, binary.LittleEndian, actByte); err != nil {
		return err
	}

	if err := writeFloats(w, r.Weights); err != nil {
		return err
	}
	if err := writeFloats(w, r.Biases); err != nil {
		return err
	}

	switch r.Kind {
	case layer.KindBatchNorm:
		if err := binary.Write(w, binary.LittleEndian, byte(r.BNMode)); err != nil {
			return err
		}
		if err := writeFloats(w, r.RunningMean); err != nil {
			return err
		}
		if err := writeFloats(w, r.RunningVar); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, r.Iteration); err != nil {
			return err
		}
	case layer.KindConvolutional:
		for _, v := range []int32{int32(r.KernelCount), int32(r.KernelH), int32(r.KernelW), int32(r.Stride)} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	case layer.KindPooling:
		for _, v := range []int32{int32(r.PoolH), int32(r.PoolW), int32(r.PoolStride)} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	case layer.KindOutput, layer.KindSoftmax:
		costByte, ok := costBytes[r.CostName]
		if !ok {
			return fmt.Errorf("serialize: unknown cost function %q", r.CostName)
		}
		if err := binary.Write(w, binary.LittleEndian, costByte); err != nil {
			return err
		}
	}
	return nil
}

func readRecordBody(r io.Reader, kind layer.Kind) (layer.Record, error) {
	rec := layer.Record{Kind: kind}

	inShape, err := readShape(r)
	if err != nil {
		return rec, err
	}
	outShape, err := readShape(r)
	if err != nil {
		return rec, err
	}
	rec.InputShape, rec.OutputShape = inShape, outShape

	var actByte byte
	if err := binary.Read(r, binary.LittleEndian, &actByte); err != nil {
		return rec, err
	}
	name, ok := activationNames[actByte]
	if !ok {
		return rec, fmt.Errorf("unknown activation byte %d", actByte)
	}
	rec.ActivationName = name

	if rec.Weights, err = readFloats(r); err != nil {
		return rec, err
	}
	if rec.Biases, err = readFloats(r); err != nil {
		return rec, err
	}

	switch kind {
	case layer.KindBatchNorm:
		var modeByte byte
		if err := binary.Read(r, binary.LittleEndian, &modeByte); err != nil {
			return rec, err
		}
		rec.BNMode = layer.BatchNormMode(modeByte)
		if rec.RunningMean, err = readFloats(r); err != nil {
			return rec, err
		}
		if rec.RunningVar, err = readFloats(r); err != nil {
			return rec, err
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.Iteration); err != nil {
			return rec, err
		}
	case layer.KindConvolutional:
		var kernelCount, kernelH, kernelW, stride int32
		for _, v := range []*int32{&kernelCount, &kernelH, &kernelW, &stride} {
			if err := binary.Read(r, binary.LittleEndian, v); err != nil {
				return rec, err
			}
		}
		rec.KernelCount, rec.KernelH, rec.KernelW, rec.Stride = int(kernelCount), int(kernelH), int(kernelW), int(stride)
	case layer.KindPooling:
		var poolH, poolW, poolStride int32
		for _, v := range []*int32{&poolH, &poolW, &poolStride} {
			if err := binary.Read(r, binary.LittleEndian, v); err != nil {
				return rec, err
			}
		}
		rec.PoolH, rec.PoolW, rec.PoolStride = int(poolH), int(poolW), int(poolStride)
	case layer.KindOutput, layer.KindSoftmax:
		var costByte byte
		if err := binary.Read(r, binary.LittleEndian, &costByte); err != nil {
			return rec, err
		}
		name, ok := costNames[costByte]
		if !ok {
			return rec, fmt.Errorf("unknown cost-function byte %d", costByte)
		}
		rec.CostName = name
	default:
		if kind != layer.KindFullyConnected {
			return rec, fmt.Errorf("unknown layer kind byte %d", kind)
		}
	}

	return rec, nil
}
