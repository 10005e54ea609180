// Package config assembles a RuntimeConfig from flags, a config file, and
// environment variables, grounded on CWBudde-go-pocket-tts's
// internal/config: viper defaults + pflag binding + env override,
// decoded into a mapstructure-tagged struct. It replaces the implicit
// global state spec.md §9 flags (GPU settings, accuracy tester, batch-size
// cap) with an explicit value passed into the trainer and network
// constructors.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RuntimeConfig bundles every knob cmd/convnet exposes.
type RuntimeConfig struct {
	Paths  PathsConfig  `mapstructure:"paths"`
	Model  ModelConfig  `mapstructure:"model"`
	Train  TrainConfig  `mapstructure:"train"`
	Server ServerConfig `mapstructure:"server"`
	Runlog RunlogConfig `mapstructure:"runlog"`
}

// PathsConfig names the files a run reads from or writes to.
type PathsConfig struct {
	ModelFile    string `mapstructure:"model_file"`
	MetaFile     string `mapstructure:"meta_file"`
	TrainFile    string `mapstructure:"train_file"`
	ValidateFile string `mapstructure:"validate_file"`
	TestFile     string `mapstructure:"test_file"`
}

// ModelConfig describes the network architecture to build when training:
// one hidden fully-connected layer plus an output layer, the same shape as
// spec.md §8 scenario 1's XOR network, generalized to arbitrary widths.
type ModelConfig struct {
	InputFeatures  int    `mapstructure:"input_features"`
	HiddenUnits    int    `mapstructure:"hidden_units"`
	OutputFeatures int    `mapstructure:"output_features"`
	Activation     string `mapstructure:"activation"`
	Cost           string `mapstructure:"cost"`
}

// TrainConfig controls the trainer loop.
type TrainConfig struct {
	EpochCount         int     `mapstructure:"epoch_count"`
	BatchSize          int     `mapstructure:"batch_size"`
	UpdateRule         string  `mapstructure:"update_rule"`
	LearningRate       float32 `mapstructure:"learning_rate"`
	WeightDecay        float32 `mapstructure:"weight_decay"`
	DropoutRate        float32 `mapstructure:"dropout_rate"`
	EarlyStopTolerance float32 `mapstructure:"early_stop_tolerance"`
	EarlyStopInterval  int     `mapstructure:"early_stop_interval"`
	AccuracyMetric     string  `mapstructure:"accuracy_metric"`
	AccuracyEpsilon    float32 `mapstructure:"accuracy_epsilon"`
	Seed               int64   `mapstructure:"seed"`
}

// ServerConfig controls the predict and progress HTTP surfaces.
type ServerConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	ProgressAddr string `mapstructure:"progress_addr"`
}

// RunlogConfig controls the optional Postgres run history.
type RunlogConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	ConnectionString string `mapstructure:"connection_string"`
}

// DefaultConfig returns the configuration a bare `convnet train` run uses.
func DefaultConfig() RuntimeConfig {
	return RuntimeConfig{
		Paths: PathsConfig{
			ModelFile: "model.bin",
			MetaFile:  "model.json",
			TrainFile: "train.csv",
		},
		Model: ModelConfig{
			InputFeatures:  2,
			HiddenUnits:    4,
			OutputFeatures: 1,
			Activation:     "Sigmoid",
			Cost:           "CrossEntropy",
		},
		Train: TrainConfig{
			EpochCount:         1000,
			BatchSize:          32,
			UpdateRule:         "sgd",
			LearningRate:       0.1,
			WeightDecay:        0,
			DropoutRate:        0,
			EarlyStopTolerance: 0.001,
			EarlyStopInterval:  0,
			AccuracyMetric:     "argmax",
			AccuracyEpsilon:    0,
			Seed:               1,
		},
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ProgressAddr: "",
		},
		Runlog: RunlogConfig{
			Enabled:          false,
			ConnectionString: "",
		},
	}
}

// flagBinder is the capability LoadOptions.Cmd needs; *cobra.Command
// satisfies it.
type flagBinder interface {
	Flags() *pflag.FlagSet
}

// RegisterFlags binds every RuntimeConfig field to a CLI flag, seeded with
// defaults' values.
func RegisterFlags(fs *pflag.FlagSet, defaults RuntimeConfig) {
	fs.String("model-file", defaults.Paths.ModelFile, "Path to the binary model file")
	fs.String("meta-file", defaults.Paths.MetaFile, "Path to the JSON metadata sidecar")
	fs.String("train-file", defaults.Paths.TrainFile, "Path to the training dataset CSV")
	fs.String("validate-file", defaults.Paths.ValidateFile, "Path to the validation dataset CSV")
	fs.String("test-file", defaults.Paths.TestFile, "Path to the test dataset CSV")

	fs.Int("input-features", defaults.Model.InputFeatures, "Number of input features")
	fs.Int("hidden-units", defaults.Model.HiddenUnits, "Hidden layer width")
	fs.Int("output-features", defaults.Model.OutputFeatures, "Number of output features")
	fs.String("activation", defaults.Model.Activation, "Hidden/output activation function name")
	fs.String("cost", defaults.Model.Cost, "Output cost function name")

	fs.Int("epoch-count", defaults.Train.EpochCount, "Maximum training epochs")
	fs.Int("batch-size", defaults.Train.BatchSize, "Mini-batch size")
	fs.String("update-rule", defaults.Train.UpdateRule, "Update rule (sgd|adadelta|adam|adamax)")
	fs.Float32("learning-rate", defaults.Train.LearningRate, "Learning rate")
	fs.Float32("weight-decay", defaults.Train.WeightDecay, "L2 weight decay coefficient")
	fs.Float32("dropout-rate", defaults.Train.DropoutRate, "Dropout rate applied to fully-connected layers")
	fs.Float32("early-stop-tolerance", defaults.Train.EarlyStopTolerance, "Minimum validation cost improvement to reset the stall counter")
	fs.Int("early-stop-interval", defaults.Train.EarlyStopInterval, "Stale epochs before early stopping (0 disables)")
	fs.String("accuracy-metric", defaults.Train.AccuracyMetric, "Accuracy tester (argmax|threshold|bounded-distance)")
	fs.Float32("accuracy-epsilon", defaults.Train.AccuracyEpsilon, "Epsilon for threshold/bounded-distance accuracy testers")
	fs.Int64("seed", defaults.Train.Seed, "Dataset shuffling seed")

	fs.String("listen-addr", defaults.Server.ListenAddr, "HTTP listen address for the predict endpoint")
	fs.String("progress-addr", defaults.Server.ProgressAddr, "HTTP listen address for the websocket progress feed (empty disables it)")

	fs.Bool("runlog-enabled", defaults.Runlog.Enabled, "Record epoch metrics to Postgres")
	fs.String("runlog-dsn", defaults.Runlog.ConnectionString, "Postgres connection string for run history")
}

// LoadOptions parameterizes Load.
type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   RuntimeConfig
}

// Load assembles a RuntimeConfig from (in ascending priority) defaults, an
// optional config file, environment variables prefixed CONVNET_, and
// bound CLI flags.
func Load(opts LoadOptions) (RuntimeConfig, error) {
	v := viper.New()
	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return RuntimeConfig{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("CONVNET")
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return RuntimeConfig{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c RuntimeConfig) {
	v.SetDefault("paths.model_file", c.Paths.ModelFile)
	v.SetDefault("paths.meta_file", c.Paths.MetaFile)
	v.SetDefault("paths.train_file", c.Paths.TrainFile)
	v.SetDefault("paths.validate_file", c.Paths.ValidateFile)
	v.SetDefault("paths.test_file", c.Paths.TestFile)

	v.SetDefault("model.input_features", c.Model.InputFeatures)
	v.SetDefault("model.hidden_units", c.Model.HiddenUnits)
	v.SetDefault("model.output_features", c.Model.OutputFeatures)
	v.SetDefault("model.activation", c.Model.Activation)
	v.SetDefault("model.cost", c.Model.Cost)

	v.SetDefault("train.epoch_count", c.Train.EpochCount)
	v.SetDefault("train.batch_size", c.Train.BatchSize)
	v.SetDefault("train.update_rule", c.Train.UpdateRule)
	v.SetDefault("train.learning_rate", c.Train.LearningRate)
	v.SetDefault("train.weight_decay", c.Train.WeightDecay)
	v.SetDefault("train.dropout_rate", c.Train.DropoutRate)
	v.SetDefault("train.early_stop_tolerance", c.Train.EarlyStopTolerance)
	v.SetDefault("train.early_stop_interval", c.Train.EarlyStopInterval)
	v.SetDefault("train.accuracy_metric", c.Train.AccuracyMetric)
	v.SetDefault("train.accuracy_epsilon", c.Train.AccuracyEpsilon)
	v.SetDefault("train.seed", c.Train.Seed)

	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.progress_addr", c.Server.ProgressAddr)

	v.SetDefault("runlog.enabled", c.Runlog.Enabled)
	v.SetDefault("runlog.connection_string", c.Runlog.ConnectionString)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.model_file", "model-file")
	v.RegisterAlias("paths.meta_file", "meta-file")
	v.RegisterAlias("paths.train_file", "train-file")
	v.RegisterAlias("paths.validate_file", "validate-file")
	v.RegisterAlias("paths.test_file", "test-file")

	v.RegisterAlias("model.input_features", "input-features")
	v.RegisterAlias("model.hidden_units", "hidden-units")
	v.RegisterAlias("model.output_features", "output-features")
	v.RegisterAlias("model.activation", "activation")
	v.RegisterAlias("model.cost", "cost")

	v.RegisterAlias("train.epoch_count", "epoch-count")
	v.RegisterAlias("train.batch_size", "batch-size")
	v.RegisterAlias("train.update_rule", "update-rule")
	v.RegisterAlias("train.learning_rate", "learning-rate")
	v.RegisterAlias("train.weight_decay", "weight-decay")
	v.RegisterAlias("train.dropout_rate", "dropout-rate")
	v.RegisterAlias("train.early_stop_tolerance", "early-stop-tolerance")
	v.RegisterAlias("train.early_stop_interval", "early-stop-interval")
	v.RegisterAlias("train.accuracy_metric", "accuracy-metric")
	v.RegisterAlias("train.accuracy_epsilon", "accuracy-epsilon")
	v.RegisterAlias("train.seed", "seed")

	v.RegisterAlias("server.listen_addr", "listen-addr")
	v.RegisterAlias("server.progress_addr", "progress-addr")

	v.RegisterAlias("runlog.enabled", "runlog-enabled")
	v.RegisterAlias("runlog.connection_string", "runlog-dsn")
}
