package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cnvrt/convnet/internal/sequential"
	"github.com/cnvrt/convnet/internal/serialize"
	"github.com/cnvrt/convnet/internal/tensor"
)

func newPredictCmd() *cobra.Command {
	var inputFile string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Load a serialized model and run it over a CSV of input rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPredict(activeCfg.Paths.ModelFile, inputFile)
		},
	}
	cmd.Flags().StringVar(&inputFile, "input-file", "", "CSV file of input rows (one sample per row, no target columns)")
	return cmd
}

func loadNetwork(modelFile string) (*sequential.Network, error) {
	layers, err := serialize.LoadGraph(modelFile)
	if err != nil {
		return nil, fmt.Errorf("convnet: load model: %w", err)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("convnet: model %q has no layers", modelFile)
	}
	net, err := sequential.New(layers[0].InputShape(), layers...)
	if err != nil {
		return nil, fmt.Errorf("convnet: rebuild network: %w", err)
	}
	return net, nil
}

func runPredict(modelFile, inputFile string) error {
	net, err := loadNetwork(modelFile)
	if err != nil {
		return err
	}

	f, err := os.Open(inputFile)
	if err != nil {
		return fmt.Errorf("convnet: open %q: %w", inputFile, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("convnet: read %q: %w", inputFile, err)
	}

	features := net.InputShape().CHW()
	outputs := make([][]float32, 0, len(rows))
	for i, row := range rows {
		if len(row) != features {
			return fmt.Errorf("convnet: row %d has %d columns, network expects %d", i, len(row), features)
		}
		in := tensor.New(tensor.Shape{N: 1, C: net.InputShape().C, H: net.InputShape().H, W: net.InputShape().W}, tensor.Default)
		data := in.Data()
		for j, cell := range row {
			v, err := strconv.ParseFloat(cell, 32)
			if err != nil {
				in.Free()
				return fmt.Errorf("convnet: row %d column %d: %w", i, j, err)
			}
			data[j] = float32(v)
		}

		out, err := net.Predict(in)
		in.Free()
		if err != nil {
			return fmt.Errorf("convnet: predict row %d: %w", i, err)
		}
		prediction := append([]float32(nil), out.Data()...)
		out.Free()
		outputs = append(outputs, prediction)
	}

	return json.NewEncoder(os.Stdout).Encode(outputs)
}
