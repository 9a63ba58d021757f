package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "NodeAsNode", cfg.Data.GraphType)
	assert.Equal(t, "Nonlinear_Dynamic_Analysis_World_Full_BSE-2", cfg.Data.Dataset)
	assert.Equal(t, 2000, cfg.Data.DataNum)
	assert.Equal(t, 1400, cfg.Data.Timesteps)
	assert.Equal(t, 12, cfg.Data.BatchSize)
	assert.Equal(t, int64(731), cfg.Data.Seed)
	assert.Equal(t, [3]float64{0.7, 0.2, 0.1}, cfg.Data.SplitRatios())
	assert.True(t, cfg.Data.RandomSample)
	assert.True(t, cfg.Eval.NeglectBeamMySz)
	assert.Equal(t, 0.9, cfg.Eval.YieldFactor)

	assert.Equal(t, 35, cfg.Model.NodeDim)
	assert.Equal(t, 256, cfg.Model.NodeLSTMHiddenDim)
	assert.Equal(t, 2, cfg.Model.NodeLSTMNumLayers)
	assert.Equal(t, []int{64}, cfg.Model.ResponseDecoderHidden)

	assert.Equal(t, "memory", cfg.Store.Kind)
	assert.Equal(t, "nodeTimeSeriesDecoder.response_decoder", cfg.Tune.Prefix)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := []byte(`
data:
  root: /data/frames
  timesteps: 200
  batch_size: 4
model:
  node_lstm_hidden_dim: 64
  response_decoder_hidden: [32, 16]
store:
  kind: sqlite
  path: runs.db
`)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	t.Setenv("SEISMIC_DATA_BATCH_SIZE", "6")
	t.Setenv("SEISMIC_LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/frames", cfg.Data.Root)
	assert.Equal(t, 200, cfg.Data.Timesteps)
	assert.Equal(t, 6, cfg.Data.BatchSize)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 64, cfg.Model.NodeLSTMHiddenDim)
	assert.Equal(t, []int{32, 16}, cfg.Model.ResponseDecoderHidden)
	assert.Equal(t, "sqlite", cfg.Store.Kind)
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Model.HeadNum)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("SEISMIC_DATA_TIMESTEPS", "5000")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	base := Default()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"split length", func(c *Config) { c.Data.Split = []float64{1} }},
		{"split sum", func(c *Config) { c.Data.Split = []float64{0.8, 0.2, 0.1} }},
		{"negative ratio", func(c *Config) { c.Data.Split = []float64{1.1, -0.1, 0} }},
		{"batch size", func(c *Config) { c.Data.BatchSize = 0 }},
		{"yield factor", func(c *Config) { c.Eval.YieldFactor = 0 }},
		{"store kind", func(c *Config) { c.Store.Kind = "redis" }},
		{"model widths", func(c *Config) { c.Model.HeadNum = 0 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Data.Split = append([]float64(nil), base.Data.Split...)
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, base.Validate())
}
