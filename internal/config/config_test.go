package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	path := writeFile(t, `
big_stride: 1000
slice_us: 0
clock: tick
tick_us: 50
tasks:
  - name: alpha
    priority: 4
    kind: spin
    rounds: 10
  - name: beta
    kind: clock
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 1000, cfg.BigStride)
	require.Zero(t, cfg.SliceUS)
	require.Equal(t, "tick", cfg.Clock)
	require.EqualValues(t, 50, cfg.TickUS)
	require.Equal(t, 4, cfg.UserPages)
	require.Equal(t, []TaskSpec{
		{Name: "alpha", Priority: 4, Kind: "spin", Rounds: 10},
		{Name: "beta", Priority: 16, Kind: "clock", Rounds: 1},
	}, cfg.Tasks)
}

func TestLoadClamps(t *testing.T) {
	path := writeFile(t, `
big_stride: -5
default_priority: 1
tick_us: 0
clock: sundial
user_base: 65552
user_pages: 0
max_heap_pages: -3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	def := Default()
	require.Equal(t, def.BigStride, cfg.BigStride)
	require.EqualValues(t, 2, cfg.DefaultPriority)
	require.Equal(t, def.TickUS, cfg.TickUS)
	require.Equal(t, "monotonic", cfg.Clock)
	require.Equal(t, def.UserBase, cfg.UserBase)
	require.Equal(t, def.UserPages, cfg.UserPages)
	require.Zero(t, cfg.MaxHeapPages)
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeFile(t, "big_stride: [1, 2\n"))
	require.Error(t, err)
}
