// Package trainer implements the mini-batch training loop of spec.md §4.7:
// shuffles the training dataset each epoch, forwards/backpropagates every
// batch, applies a pluggable update rule per weighted layer, and optionally
// tracks validation cost for early stopping and test-set accuracy for
// reporting. It generalizes the teacher's nn.Train loop (same epoch/batch
// structure, same log.Printf epoch summary, same NaN guard) to a graph of
// arbitrary shape instead of a flat layer slice.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cnvrt/convnet/internal/cost"
	"github.com/cnvrt/convnet/internal/dataset"
	"github.com/cnvrt/convnet/internal/graph"
	"github.com/cnvrt/convnet/internal/metric"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Network is the capability set a Trainer needs from a network: access to
// its executable graph and the node ID of the output it trains against.
// *sequential.Network satisfies this without importing internal/trainer,
// and a caller with a multi-output graph can supply its own thin
// implementation for AuxOutputNodeIDs.
type Network interface {
	Graph() *graph.Graph
	OutputNodeID() int
}

// TerminationReason names why Train returned, spec.md §4.7's four cases.
type TerminationReason int

const (
	Completed TerminationReason = iota
	EarlyStopping
	Cancelled
	NumericOverflow
)

func (r TerminationReason) String() string {
	switch r {
	case Completed:
		return "Completed"
	case EarlyStopping:
		return "EarlyStopping"
	case Cancelled:
		return "Cancelled"
	case NumericOverflow:
		return "NumericOverflow"
	default:
		return "Unknown"
	}
}

// Result summarizes a finished (or stopped) training run.
type Result struct {
	Reason      TerminationReason
	EpochsRun   int
	FinalCost   float32
	FinalAccuracy float32
}

// Config bundles everything a Trainer needs. Validation, Test,
// AccuracyMetric, AuxOutputNodeIDs, OnBatch, OnEpoch and Registry are all
// optional collaborators per SPEC_FULL's "RuntimeConfig passed in, not
// global state" guidance (spec.md §9) — a Config with only Net, Rule,
// Train and EpochCount set still trains, just without early stopping,
// accuracy reporting, progress callbacks or metrics.
type Config struct {
	Net  Network
	Rule UpdateRule
	Train *dataset.Dataset

	EpochCount int

	Validation          *dataset.Dataset
	EarlyStopTolerance  float32
	EarlyStopInterval   int

	Test           *dataset.Dataset
	AccuracyMetric metric.Metric

	// AuxOutputNodeIDs are additional Output nodes (typically reached via
	// AddTrainingBranch) trained against the same target as the primary
	// output every batch, spec.md §4.6's training-branch gradient fan-in.
	AuxOutputNodeIDs []int

	DropoutRate float32
	DropoutSeed int64

	// OnBatch reports (samplesProcessed, totalSamples) after each batch.
	OnBatch func(processed, total int)
	// OnEpoch reports (epoch, cost, accuracy) after each epoch's test-set
	// evaluation; accuracy is 0 if Test is nil.
	OnEpoch func(epoch int, cost, accuracy float32)

	Registry *prometheus.Registry
}

// Trainer runs the loop described by a Config. It owns no state beyond
// what Config gives it — construction never fails, since every invariant
// spec.md §7 calls "invalid configuration" belongs to the pieces Config is
// built from (dataset.New, layer constructors), not to the trainer itself.
type Trainer struct {
	cfg Config

	costGauge     prometheus.Gauge
	accuracyGauge prometheus.Gauge
	batchCounter  prometheus.Counter
}

// New builds a Trainer and, if cfg.Registry is non-nil, registers its
// prometheus collectors on it.
func New(cfg Config) *Trainer {
	t := &Trainer{cfg: cfg}
	if cfg.Registry != nil {
		t.costGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convnet_trainer_cost",
			Help: "Most recently completed epoch's average training cost.",
		})
		t.accuracyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convnet_trainer_accuracy",
			Help: "Most recently completed epoch's test-set accuracy.",
		})
		t.batchCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convnet_trainer_batches_total",
			Help: "Total mini-batches processed across the training run.",
		})
		cfg.Registry.MustRegister(t.costGauge, t.accuracyGauge, t.batchCounter)
	}
	applyDropout(cfg.Net.Graph(), cfg.DropoutRate, cfg.DropoutSeed)
	return t
}

// dropoutSetter is implemented by layer kinds that support dropout
// (FullyConnected only); layers that don't implement it are silently
// skipped, the same "global setting, per-layer opt-in" shape the teacher's
// dropout layer has as a standalone layer instead of a cross-cutting knob.
type dropoutSetter interface {
	SetDropout(rate float32, seed int64)
}

func applyDropout(g *graph.Graph, rate float32, seed int64) {
	if rate <= 0 {
		return
	}
	for _, id := range g.Layers() {
		n := g.NodeByID(id)
		if ds, ok := n.Layer.(dropoutSetter); ok {
			ds.SetDropout(rate, seed)
			seed++ // distinct streams per layer, still deterministic given the base seed
		}
	}
}

// costCarrier lets the trainer read an Output node's attached cost
// function without importing the concrete *layer.Output type.
type costCarrier interface {
	Cost() cost.Function
}

func outputCost(n *graph.Node) (cost.Function, bool) {
	cc, ok := n.Layer.(costCarrier)
	if !ok {
		return nil, false
	}
	return cc.Cost(), true
}

// Train runs the full epoch/batch loop until one of spec.md §4.7's four
// termination conditions is reached.
func (t *Trainer) Train(ctx context.Context) (Result, error) {
	cfg := t.cfg
	g := cfg.Net.Graph()
	outNode := g.NodeByID(cfg.Net.OutputNodeID())
	if outNode == nil {
		return Result{}, fmt.Errorf("trainer: network's output node id not found in its graph")
	}
	costFn, ok := outputCost(outNode)
	if !ok {
		return Result{}, fmt.Errorf("trainer: output node has no attached cost function")
	}

	layerIDs := g.Layers()

	var bestValCost float32 = float32(math.Inf(1))
	staleEpochs := 0

	var lastCost, lastAccuracy float32
	reason := Completed
	epoch := 0

epochLoop:
	for ; epoch < cfg.EpochCount; epoch++ {
		select {
		case <-ctx.Done():
			reason = Cancelled
			break epochLoop
		default:
		}

		cfg.Train.Reset()
		var epochCost float32
		batches := 0
		totalSamples := cfg.Train.Len()
		processed := 0

		for {
			select {
			case <-ctx.Done():
				reason = Cancelled
				break epochLoop
			default:
			}

			x, y, ok := cfg.Train.NextBatch()
			if !ok {
				break
			}

			for _, id := range layerIDs {
				g.NodeByID(id).Layer.ZeroGrad()
			}

			acts, err := g.Forward(x, true)
			if err != nil {
				return Result{}, fmt.Errorf("trainer: forward: %w", err)
			}

			pred := acts.Get(outNode).Duplicate()
			batchCost := costFn.Apply(y, pred)
			pred.Free()
			if math.IsNaN(float64(batchCost)) || math.IsInf(float64(batchCost), 0) {
				// Backward was never called, so x is still tracked as the
				// Input node's own activation; Discard frees it along with
				// every other untouched forward tensor.
				acts.Discard()
				y.Free()
				reason = NumericOverflow
				break epochLoop
			}
			epochCost += batchCost

			targets := map[int]*tensor.Tensor{outNode.ID: y}
			for _, auxID := range cfg.AuxOutputNodeIDs {
				targets[auxID] = y
			}
			if err := g.Backward(acts, targets); err != nil {
				return Result{}, fmt.Errorf("trainer: backward: %w", err)
			}
			acts.Discard()
			x.Free()
			y.Free()

			if err := t.applyUpdates(layerIDs, g); err != nil {
				reason = NumericOverflow
				break epochLoop
			}

			batches++
			processed += x.Shape().N
			if cfg.OnBatch != nil {
				cfg.OnBatch(processed, totalSamples)
			}
			if t.batchCounter != nil {
				t.batchCounter.Inc()
			}
		}

		if batches > 0 {
			epochCost /= float32(batches)
		}
		lastCost = epochCost

		var epochAccuracy float32
		if cfg.Test != nil && cfg.AccuracyMetric != nil {
			epochAccuracy = t.evaluate(g, outNode, cfg.Test, cfg.AccuracyMetric)
		}
		lastAccuracy = epochAccuracy

		log.Printf("Epoch %d/%d, avg_cost: %-10.5g avg_accuracy: %-10.5g\n", epoch+1, cfg.EpochCount, epochCost, epochAccuracy)
		if t.costGauge != nil {
			t.costGauge.Set(float64(epochCost))
		}
		if t.accuracyGauge != nil {
			t.accuracyGauge.Set(float64(epochAccuracy))
		}
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(epoch, epochCost, epochAccuracy)
		}

		if cfg.Validation != nil && cfg.EarlyStopInterval > 0 {
			valCost := t.evaluateCost(g, outNode, cfg.Validation, costFn)
			if bestValCost-valCost > cfg.EarlyStopTolerance {
				bestValCost = valCost
				staleEpochs = 0
			} else {
				staleEpochs++
				if staleEpochs >= cfg.EarlyStopInterval {
					reason = EarlyStopping
					break epochLoop
				}
			}
		}
	}

	if epoch >= cfg.EpochCount {
		epoch = cfg.EpochCount - 1
	}
	return Result{Reason: reason, EpochsRun: epoch, FinalCost: lastCost, FinalAccuracy: lastAccuracy}, nil
}

// applyUpdates invokes the configured update rule once per parameter
// buffer across every weighted layer, then checks for NaN/Inf parameter
// values — spec.md §7's numeric-overflow check runs both on the computed
// cost and after the update rule has been applied.
func (t *Trainer) applyUpdates(layerIDs []int, g *graph.Graph) error {
	for _, id := range layerIDs {
		l := g.NodeByID(id).Layer
		for _, p := range l.Parameters() {
			applyL2 := p.Name != "bias"
			t.cfg.Rule.Apply(p, applyL2)
			for _, v := range p.Value {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					return errors.New("trainer: parameter became NaN or Inf")
				}
			}
		}
	}
	return nil
}

// evaluate runs ds to completion in inference mode and averages acc over
// every batch, weighted by batch size.
func (t *Trainer) evaluate(g *graph.Graph, outNode *graph.Node, ds *dataset.Dataset, acc metric.Metric) float32 {
	ds.Reset()
	var total float32
	var samples int
	for {
		x, y, ok := ds.NextBatch()
		if !ok {
			break
		}
		acts, err := g.Forward(x, false)
		if err != nil {
			x.Free()
			y.Free()
			continue
		}
		pred := acts.Get(outNode).Duplicate()
		acts.Discard()
		n := x.Shape().N
		total += acc.Calculate(y, pred) * float32(n)
		samples += n
		pred.Free()
		x.Free()
		y.Free()
	}
	if samples == 0 {
		return 0
	}
	return total / float32(samples)
}

// evaluateCost mirrors evaluate but reports cost instead of accuracy, used
// for validation-driven early stopping.
func (t *Trainer) evaluateCost(g *graph.Graph, outNode *graph.Node, ds *dataset.Dataset, costFn cost.Function) float32 {
	ds.Reset()
	var total float32
	var batches int
	for {
		x, y, ok := ds.NextBatch()
		if !ok {
			break
		}
		acts, err := g.Forward(x, false)
		if err != nil {
			x.Free()
			y.Free()
			continue
		}
		pred := acts.Get(outNode).Duplicate()
		acts.Discard()
		total += costFn.Apply(y, pred)
		batches++
		pred.Free()
		x.Free()
		y.Free()
	}
	if batches == 0 {
		return 0
	}
	return total / float32(batches)
}
