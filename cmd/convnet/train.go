package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/config"
	"github.com/cnvrt/convnet/internal/cost"
	"github.com/cnvrt/convnet/internal/dataset"
	"github.com/cnvrt/convnet/internal/initializer"
	"github.com/cnvrt/convnet/internal/layer"
	"github.com/cnvrt/convnet/internal/metric"
	"github.com/cnvrt/convnet/internal/progress"
	"github.com/cnvrt/convnet/internal/runlog"
	"github.com/cnvrt/convnet/internal/sequential"
	"github.com/cnvrt/convnet/internal/serialize"
	"github.com/cnvrt/convnet/internal/tensor"
	"github.com/cnvrt/convnet/internal/trainer"
)

func newTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train a network and write its serialized model file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(activeCfg)
		},
	}
}

func buildNetwork(m config.ModelConfig) (*sequential.Network, error) {
	act, err := activation.ByName(m.Activation)
	if err != nil {
		return nil, fmt.Errorf("convnet: activation: %w", err)
	}
	costFn, err := cost.ByName(m.Cost)
	if err != nil {
		return nil, fmt.Errorf("convnet: cost: %w", err)
	}

	hidden := layer.NewFullyConnected(m.InputFeatures, m.HiddenUnits, act, initializer.GlorotUniform{}, initializer.ZeroBias{})
	out, err := layer.NewOutput(m.HiddenUnits, m.OutputFeatures, act, costFn, initializer.GlorotUniform{}, initializer.ZeroBias{})
	if err != nil {
		return nil, fmt.Errorf("convnet: output layer: %w", err)
	}

	net, err := sequential.New(tensor.Shape{C: m.InputFeatures, H: 1, W: 1}, hidden, out)
	if err != nil {
		return nil, fmt.Errorf("convnet: build network: %w", err)
	}
	return net, nil
}

func buildRule(t config.TrainConfig) (trainer.UpdateRule, error) {
	switch t.UpdateRule {
	case "sgd", "":
		return trainer.SGD{LearningRate: t.LearningRate, WeightDecay: t.WeightDecay}, nil
	case "adadelta":
		return trainer.AdaDelta{Rho: 0.95, Epsilon: 1e-6, WeightDecay: t.WeightDecay}, nil
	case "adam":
		return trainer.Adam{LearningRate: t.LearningRate, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}, nil
	case "adamax":
		return trainer.AdaMax{LearningRate: t.LearningRate, Beta1: 0.9, Beta2: 0.999}, nil
	default:
		return nil, fmt.Errorf("convnet: unknown update rule %q", t.UpdateRule)
	}
}

func buildAccuracyMetric(t config.TrainConfig) (metric.Metric, error) {
	switch t.AccuracyMetric {
	case "argmax", "":
		return metric.ArgmaxAccuracy{}, nil
	case "threshold":
		return metric.ThresholdAccuracy{Epsilon: t.AccuracyEpsilon}, nil
	case "bounded-distance":
		return metric.BoundedDistanceAccuracy{Epsilon: t.AccuracyEpsilon}, nil
	default:
		return nil, fmt.Errorf("convnet: unknown accuracy metric %q", t.AccuracyMetric)
	}
}

func runTrain(cfg config.RuntimeConfig) error {
	net, err := buildNetwork(cfg.Model)
	if err != nil {
		return err
	}

	trainSource, err := loadCSVSource(cfg.Paths.TrainFile, cfg.Model.InputFeatures, cfg.Model.OutputFeatures)
	if err != nil {
		return err
	}
	trainSet, err := dataset.New(trainSource, cfg.Train.BatchSize, true, cfg.Train.Seed)
	if err != nil {
		return fmt.Errorf("convnet: train dataset: %w", err)
	}

	var validationSet *dataset.Dataset
	if cfg.Paths.ValidateFile != "" {
		src, err := loadCSVSource(cfg.Paths.ValidateFile, cfg.Model.InputFeatures, cfg.Model.OutputFeatures)
		if err != nil {
			return err
		}
		validationSet, err = dataset.New(src, cfg.Train.BatchSize, false, cfg.Train.Seed)
		if err != nil {
			return fmt.Errorf("convnet: validation dataset: %w", err)
		}
	}

	var testSet *dataset.Dataset
	if cfg.Paths.TestFile != "" {
		src, err := loadCSVSource(cfg.Paths.TestFile, cfg.Model.InputFeatures, cfg.Model.OutputFeatures)
		if err != nil {
			return err
		}
		testSet, err = dataset.New(src, cfg.Train.BatchSize, false, cfg.Train.Seed)
		if err != nil {
			return fmt.Errorf("convnet: test dataset: %w", err)
		}
	}

	rule, err := buildRule(cfg.Train)
	if err != nil {
		return err
	}
	acc, err := buildAccuracyMetric(cfg.Train)
	if err != nil {
		return err
	}

	var onBatch func(int, int)
	var onEpoch func(int, float32, float32)
	var hub *progress.Hub
	if cfg.Server.ProgressAddr != "" {
		hub = progress.NewHub()
		broadcaster := progress.NewBroadcaster(hub)
		onBatch = broadcaster.OnBatch
		onEpoch = broadcaster.OnEpoch
		go func() {
			log.Printf("convnet: progress feed listening on %s", cfg.Server.ProgressAddr)
			if err := serveHub(cfg.Server.ProgressAddr, hub); err != nil {
				log.Printf("convnet: progress server: %v", err)
			}
		}()
	}

	var store *runlog.Store
	runID := ""
	if cfg.Runlog.Enabled {
		store, err = runlog.Open(cfg.Runlog.ConnectionString)
		if err != nil {
			return fmt.Errorf("convnet: runlog: %w", err)
		}
		ctx := context.Background()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("convnet: runlog schema: %w", err)
		}
		runID = newRunID()
		if err := store.StartRun(ctx, runID); err != nil {
			return fmt.Errorf("convnet: runlog start: %w", err)
		}
		recorder := runlog.NewRecorder(ctx, store, runID)
		if onEpoch == nil {
			onEpoch = recorder.OnEpoch
		} else {
			prior := onEpoch
			onEpoch = func(epoch int, cost, accuracy float32) {
				prior(epoch, cost, accuracy)
				recorder.OnEpoch(epoch, cost, accuracy)
			}
		}
	}

	t := trainer.New(trainer.Config{
		Net:                net,
		Rule:               rule,
		Train:              trainSet,
		EpochCount:         cfg.Train.EpochCount,
		Validation:         validationSet,
		EarlyStopTolerance: cfg.Train.EarlyStopTolerance,
		EarlyStopInterval:  cfg.Train.EarlyStopInterval,
		Test:               testSet,
		AccuracyMetric:     acc,
		DropoutRate:        cfg.Train.DropoutRate,
		DropoutSeed:        cfg.Train.Seed,
		OnBatch:            onBatch,
		OnEpoch:            onEpoch,
		Registry:           prometheus.NewRegistry(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := t.Train(ctx)
	if err != nil {
		return fmt.Errorf("convnet: train: %w", err)
	}
	log.Printf("convnet: training finished after %d epochs, reason=%s, cost=%.5g, accuracy=%.5g",
		result.EpochsRun, result.Reason, result.FinalCost, result.FinalAccuracy)

	if store != nil {
		if err := store.FinishRun(context.Background(), runID, result.Reason.String()); err != nil {
			log.Printf("convnet: runlog finish: %v", err)
		}
	}

	if err := serialize.SaveGraph(net.Layers(), cfg.Paths.ModelFile, cfg.Paths.MetaFile); err != nil {
		return fmt.Errorf("convnet: save model: %w", err)
	}
	log.Printf("convnet: model written to %s", cfg.Paths.ModelFile)
	return nil
}
