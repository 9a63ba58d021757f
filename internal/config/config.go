// Package config resolves runtime settings from defaults, an optional config
// file and SEISMIC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/dataset"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/storage"
)

const EnvPrefix = "SEISMIC"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	LogLevel     string           `mapstructure:"log_level"`
	LogConsole   bool             `mapstructure:"log_console"`
	ArtifactsDir string           `mapstructure:"artifacts_dir"`
	Data         DataConfig       `mapstructure:"data"`
	Model        graphlstm.Config `mapstructure:"model"`
	Eval         EvalConfig       `mapstructure:"eval"`
	Tune         TuneConfig       `mapstructure:"tune"`
	Store        StoreConfig      `mapstructure:"store"`
}

type DataConfig struct {
	Root         string    `mapstructure:"root"`
	Dataset      string    `mapstructure:"dataset"`
	OtherFolders []string  `mapstructure:"other_folders"`
	GraphType    string    `mapstructure:"graph_type"`
	DataNum      int       `mapstructure:"data_num"`
	Timesteps    int       `mapstructure:"timesteps"`
	Split        []float64 `mapstructure:"split"`
	BatchSize    int       `mapstructure:"batch_size"`
	Seed         int64     `mapstructure:"seed"`
	Workers      int       `mapstructure:"workers"`
	RandomSample bool      `mapstructure:"random_sample"`
}

type EvalConfig struct {
	SampleNodes     bool    `mapstructure:"sample_nodes"`
	NeglectBeamMySz bool    `mapstructure:"neglect_beam_my_sz"`
	YieldFactor     float64 `mapstructure:"yield_factor"`
}

type TuneConfig struct {
	Prefix             string  `mapstructure:"prefix"`
	Attempts           int     `mapstructure:"attempts"`
	Steps              int     `mapstructure:"steps"`
	StepSize           float64 `mapstructure:"step_size"`
	PerturbationRange  float64 `mapstructure:"perturbation_range"`
	AnnealingFactor    float64 `mapstructure:"annealing_factor"`
	MinImprovement     float64 `mapstructure:"min_improvement"`
	CandidateSelection string  `mapstructure:"candidate_selection"`
	Policy             string  `mapstructure:"policy"`
	PolicyParam        float64 `mapstructure:"policy_param"`
	Batches            int     `mapstructure:"batches"`
}

type StoreConfig struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

// SetDefaults registers every key so that environment overrides resolve
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_console", true)
	v.SetDefault("artifacts_dir", "results")

	v.SetDefault("data.root", "Data")
	v.SetDefault("data.dataset", "Nonlinear_Dynamic_Analysis_World_Full_BSE-2")
	v.SetDefault("data.other_folders", []string{})
	v.SetDefault("data.graph_type", "NodeAsNode")
	v.SetDefault("data.data_num", 2000)
	v.SetDefault("data.timesteps", 1400)
	v.SetDefault("data.split", []float64{0.7, 0.2, 0.1})
	v.SetDefault("data.batch_size", 12)
	v.SetDefault("data.seed", dataset.DefaultSeed)
	v.SetDefault("data.workers", 0)
	v.SetDefault("data.random_sample", true)

	m := graphlstm.DefaultConfig()
	v.SetDefault("model.node_dim", m.NodeDim)
	v.SetDefault("model.edge_dim", m.EdgeDim)
	v.SetDefault("model.ground_motion_dim", m.GroundMotionDim)
	v.SetDefault("model.output_dim", m.OutputDim)
	v.SetDefault("model.gnn_num_layers", m.GNNNumLayers)
	v.SetDefault("model.head_num", m.HeadNum)
	v.SetDefault("model.gnn_hidden_dim", m.GNNHiddenDim)
	v.SetDefault("model.latent_dim", m.LatentDim)
	v.SetDefault("model.graph_lstm_hidden_dim", m.GraphLSTMHiddenDim)
	v.SetDefault("model.graph_lstm_num_layers", m.GraphLSTMNumLayers)
	v.SetDefault("model.node_encoder_hidden", m.NodeEncoderHidden)
	v.SetDefault("model.node_lstm_hidden_dim", m.NodeLSTMHiddenDim)
	v.SetDefault("model.node_lstm_num_layers", m.NodeLSTMNumLayers)
	v.SetDefault("model.response_decoder_hidden", m.ResponseDecoderHidden)

	v.SetDefault("eval.sample_nodes", true)
	v.SetDefault("eval.neglect_beam_my_sz", true)
	v.SetDefault("eval.yield_factor", 0.9)

	v.SetDefault("tune.prefix", "nodeTimeSeriesDecoder.response_decoder")
	v.SetDefault("tune.attempts", 10)
	v.SetDefault("tune.steps", 8)
	v.SetDefault("tune.step_size", 0.05)
	v.SetDefault("tune.perturbation_range", 1.0)
	v.SetDefault("tune.annealing_factor", 0.9)
	v.SetDefault("tune.min_improvement", 0)
	v.SetDefault("tune.candidate_selection", "best_so_far")
	v.SetDefault("tune.policy", "fixed")
	v.SetDefault("tune.policy_param", 0)
	v.SetDefault("tune.batches", 1)

	v.SetDefault("store.kind", storage.KindMemory)
	v.SetDefault("store.path", "seismicgraph.db")
}

// Load builds the configuration. path may be empty; its format follows the
// file extension (yaml, json, toml). data.root is exposed as
// SEISMIC_DATA_ROOT.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Default() Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

func (c Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("%w: model: %w", ErrInvalid, err)
	}
	if len(c.Data.Split) != 3 {
		return fmt.Errorf("%w: data.split needs train, valid and test ratios, got %v", ErrInvalid, c.Data.Split)
	}
	sum := 0.0
	for _, r := range c.Data.Split {
		if r < 0 {
			return fmt.Errorf("%w: negative split ratio %v", ErrInvalid, r)
		}
		sum += r
	}
	if sum <= 0 || sum > 1+1e-9 {
		return fmt.Errorf("%w: split ratios sum to %v", ErrInvalid, sum)
	}
	if c.Data.Timesteps <= 0 || c.Data.Timesteps > dataset.MaxSteps {
		return fmt.Errorf("%w: data.timesteps %d outside (0,%d]", ErrInvalid, c.Data.Timesteps, dataset.MaxSteps)
	}
	if c.Data.BatchSize <= 0 {
		return fmt.Errorf("%w: data.batch_size must be positive", ErrInvalid)
	}
	if c.Eval.YieldFactor <= 0 {
		return fmt.Errorf("%w: eval.yield_factor must be positive", ErrInvalid)
	}
	if err := storage.ValidKind(c.Store.Kind); err != nil {
		return fmt.Errorf("%w: store: %w", ErrInvalid, err)
	}
	return nil
}

// SplitRatios returns the train, valid and test ratios as an array.
func (d DataConfig) SplitRatios() [3]float64 {
	var out [3]float64
	copy(out[:], d.Split)
	return out
}

func (d DataConfig) LoadOptions() dataset.LoadOptions {
	return dataset.LoadOptions{
		Root:         d.Root,
		Folder:       d.Dataset,
		OtherFolders: d.OtherFolders,
		GraphType:    d.GraphType,
		DataNum:      d.DataNum,
		Timesteps:    d.Timesteps,
		Seed:         d.Seed,
		Workers:      d.Workers,
	}
}
