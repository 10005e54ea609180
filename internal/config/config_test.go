package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

func newFlagBinder(defaults RuntimeConfig) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)
	return &fakeBinder{fs: fs}
}

func TestDefaultConfigMatchesXORScenarioShape(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.Model.InputFeatures)
	assert.Equal(t, 1, cfg.Model.OutputFeatures)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "sgd", cfg.Train.UpdateRule)
	assert.False(t, cfg.Runlog.Enabled)
}

func TestRegisterFlagsSeedsDefaultValues(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := map[string]string{
		"model-file":  defaults.Paths.ModelFile,
		"listen-addr": defaults.Server.ListenAddr,
		"update-rule": defaults.Train.UpdateRule,
	}
	for flag, want := range checks {
		f := fs.Lookup(flag)
		require.NotNil(t, f, "flag %q not registered", flag)
		assert.Equal(t, want, f.DefValue)
	}
}

func TestLoadReturnsDefaultsWithNoOverrides(t *testing.T) {
	defaults := DefaultConfig()
	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(defaults), Defaults: defaults})
	require.NoError(t, err)

	assert.Equal(t, defaults.Paths.ModelFile, cfg.Paths.ModelFile)
	assert.Equal(t, defaults.Train.EpochCount, cfg.Train.EpochCount)
}

func TestLoadAppliesFlagOverrides(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)
	require.NoError(t, fs.Parse([]string{"--update-rule=adam", "--epoch-count=50"}))

	cfg, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, Defaults: defaults})
	require.NoError(t, err)

	assert.Equal(t, "adam", cfg.Train.UpdateRule)
	assert.Equal(t, 50, cfg.Train.EpochCount)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("CONVNET_SERVER_LISTEN_ADDR", ":9999")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
}

func TestLoadAppliesConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "convnet.yaml")
	content := "train:\n  update_rule: adamax\n  epoch_count: 77\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))

	cfg, err := Load(LoadOptions{ConfigFile: cfgFile, Defaults: DefaultConfig()})
	require.NoError(t, err)

	assert.Equal(t, "adamax", cfg.Train.UpdateRule)
	assert.Equal(t, 77, cfg.Train.EpochCount)
}

func TestLoadRejectsInvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644))

	_, err := Load(LoadOptions{ConfigFile: cfgFile, Defaults: DefaultConfig()})
	assert.Error(t, err)
}

func TestLoadRejectsMissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigFile: "/nonexistent/convnet.yaml", Defaults: DefaultConfig()})
	assert.Error(t, err)
}

func TestLoadWithNilCmdDoesNotPanic(t *testing.T) {
	cfg, err := Load(LoadOptions{Cmd: nil, Defaults: DefaultConfig()})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Paths.ModelFile)
}
