package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/cnvrt/convnet/internal/dataset"
)

// loadCSVSource reads a headerless numeric CSV file where each row is
// inputFeatures columns of input followed by outputFeatures columns of
// target, the generic tabular layout this module's dataset streaming
// contract (spec.md §6) expects a caller to produce. MNIST/CIFAR-style
// decoding is out of scope (spec.md §1); this reads whatever tabular
// export the caller already has.
func loadCSVSource(path string, inputFeatures, outputFeatures int) (dataset.SliceSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataset.SliceSource{}, fmt.Errorf("convnet: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return dataset.SliceSource{}, fmt.Errorf("convnet: read %q: %w", path, err)
	}

	want := inputFeatures + outputFeatures
	inputs := make([][]float32, 0, len(rows))
	targets := make([][]float32, 0, len(rows))
	for i, row := range rows {
		if len(row) != want {
			return dataset.SliceSource{}, fmt.Errorf("convnet: %s row %d has %d columns, want %d", path, i, len(row), want)
		}
		vals := make([]float32, want)
		for j, cell := range row {
			v, err := strconv.ParseFloat(cell, 32)
			if err != nil {
				return dataset.SliceSource{}, fmt.Errorf("convnet: %s row %d column %d: %w", path, i, j, err)
			}
			vals[j] = float32(v)
		}
		inputs = append(inputs, vals[:inputFeatures])
		targets = append(targets, vals[inputFeatures:])
	}

	return dataset.SliceSource{Inputs: inputs, Targets: targets}, nil
}
