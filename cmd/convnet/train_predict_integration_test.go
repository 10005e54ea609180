package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cnvrt/convnet/internal/config"
)

// writeXORCSV writes the four XOR samples, each row input0,input1,target.
func writeXORCSV(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	rows := [][]float64{
		{0, 0, 0},
		{0, 1, 1},
		{1, 0, 1},
		{1, 1, 0},
	}
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		require.NoError(t, w.Write(record))
	}
	w.Flush()
	require.NoError(t, w.Error())
}

func TestTrainThenPredictRoundTripsOnXOR(t *testing.T) {
	dir := t.TempDir()
	trainFile := filepath.Join(dir, "train.csv")
	writeXORCSV(t, trainFile)

	cfg := config.DefaultConfig()
	cfg.Paths.TrainFile = trainFile
	cfg.Paths.ModelFile = filepath.Join(dir, "model.bin")
	cfg.Paths.MetaFile = filepath.Join(dir, "model.json")
	cfg.Train.EpochCount = 50
	cfg.Train.BatchSize = 4

	require.NoError(t, runTrain(cfg))
	require.FileExists(t, cfg.Paths.ModelFile)
	require.FileExists(t, cfg.Paths.MetaFile)

	inputFile := filepath.Join(dir, "inputs.csv")
	f, err := os.Create(inputFile)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"0", "1"}))
	w.Flush()
	require.NoError(t, f.Close())

	require.NoError(t, runPredict(cfg.Paths.ModelFile, inputFile))
}
