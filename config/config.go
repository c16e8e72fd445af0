// Package config provides the host-facing configuration and control
// surface: run parameters with validation, the sticky error register,
// busy/done status, and performance counters. All validation happens
// here, before start; the scheduler itself never reports errors.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/sarchlab/gemmsim/elem"
	"github.com/sarchlab/gemmsim/mem"
	"github.com/sarchlab/gemmsim/timing/compute"
	"github.com/sarchlab/gemmsim/timing/prefetch"
	"github.com/sarchlab/gemmsim/timing/scheduler"
)

// Config holds one run's parameters. Matrix and tile dimensions are in
// elements; bulk bases are byte addresses; local bases are word
// addresses.
type Config struct {
	MatrixM int `json:"matrix_m"`
	MatrixN int `json:"matrix_n"`
	MatrixK int `json:"matrix_k"`

	TileM int `json:"tile_m"`
	TileN int `json:"tile_n"`
	TileK int `json:"tile_k"`

	// Buffering is one of "single", "double_a", "double_b", "double_ab".
	Buffering string `json:"buffering"`

	BulkBaseA uint64 `json:"bulk_base_a"`
	BulkBaseB uint64 `json:"bulk_base_b"`
	BulkBaseC uint64 `json:"bulk_base_c"`

	LocalAPing uint32 `json:"local_a_ping"`
	LocalAPong uint32 `json:"local_a_pong"`
	LocalBPing uint32 `json:"local_b_ping"`
	LocalBPong uint32 `json:"local_b_pong"`
	LocalC     uint32 `json:"local_c"`

	// ElemSize* are element byte sizes: 4 (float32) or 2 (float16).
	ElemSizeA int `json:"elem_size_a"`
	ElemSizeB int `json:"elem_size_b"`
	ElemSizeC int `json:"elem_size_c"`

	// PrefetchDepth is the engine request-queue capacity.
	PrefetchDepth int `json:"prefetch_depth"`
	// BeatBytes is the bulk transport beat width.
	BeatBytes int `json:"beat_bytes"`
	// BulkLatency is the bulk access latency in ticks.
	BulkLatency uint64 `json:"bulk_latency"`
	// BulkSize is the bulk backing-store capacity in bytes.
	BulkSize int `json:"bulk_size"`

	// NumBanks is the local-memory bank count.
	NumBanks int `json:"num_banks"`
	// LocalWords is the total local-memory capacity in words.
	LocalWords int `json:"local_words"`
}

// DefaultConfig returns a single-tile 16x16x16 float32 run with the
// default transport and local-memory geometry.
func DefaultConfig() *Config {
	return &Config{
		MatrixM: 16, MatrixN: 16, MatrixK: 16,
		TileM: 16, TileN: 16, TileK: 16,

		Buffering: "double_ab",

		BulkBaseA: 0x0_0000,
		BulkBaseB: 0x2_0000,
		BulkBaseC: 0x4_0000,

		LocalAPing: 0,
		LocalAPong: 256,
		LocalBPing: 512,
		LocalBPong: 768,
		LocalC:     1024,

		ElemSizeA: 4, ElemSizeB: 4, ElemSizeC: 4,

		PrefetchDepth: prefetch.DefaultDepth,
		BeatBytes:     16,
		BulkLatency:   4,
		BulkSize:      1 << 20,

		NumBanks:   8,
		LocalWords: 4096,
	}
}

// Validate checks the configuration the way the hardware's start-time
// validation does: every dimension nonzero and every matrix dimension
// exactly divisible by its tile dimension, plus the software model's
// geometry constraints.
func (c *Config) Validate() error {
	dims := []struct {
		name         string
		matrix, tile int
	}{
		{"m", c.MatrixM, c.TileM},
		{"n", c.MatrixN, c.TileN},
		{"k", c.MatrixK, c.TileK},
	}
	for _, d := range dims {
		if d.matrix == 0 || d.tile == 0 {
			return errors.Errorf("dimension %s: zero-valued matrix or tile size", d.name)
		}
		if d.matrix%d.tile != 0 {
			return errors.Errorf(
				"dimension %s: matrix size %d not divisible by tile size %d",
				d.name, d.matrix, d.tile)
		}
	}

	if _, err := ParseBuffering(c.Buffering); err != nil {
		return err
	}

	for _, s := range []struct {
		name string
		size int
	}{{"a", c.ElemSizeA}, {"b", c.ElemSizeB}, {"c", c.ElemSizeC}} {
		if s.size != 2 && s.size != 4 {
			return errors.Errorf("operand %s: unsupported element size %d", s.name, s.size)
		}
		if c.BeatBytes <= 0 || c.BeatBytes%s.size != 0 {
			return errors.Errorf(
				"beat width %d is not a positive multiple of operand %s element size %d",
				c.BeatBytes, s.name, s.size)
		}
	}

	if c.PrefetchDepth <= 0 {
		return errors.Errorf("prefetch depth must be positive, got %d", c.PrefetchDepth)
	}
	if c.NumBanks <= 0 {
		return errors.Errorf("bank count must be positive, got %d", c.NumBanks)
	}
	if c.LocalWords <= 0 || c.LocalWords%c.NumBanks != 0 {
		return errors.Errorf(
			"local capacity %d words is not a positive multiple of %d banks",
			c.LocalWords, c.NumBanks)
	}
	return nil
}

// ParseBuffering maps the textual buffering mode to its policy value.
func ParseBuffering(s string) (scheduler.Buffering, error) {
	switch s {
	case "single":
		return scheduler.Single, nil
	case "double_a":
		return scheduler.DoubleA, nil
	case "double_b":
		return scheduler.DoubleB, nil
	case "double_ab":
		return scheduler.DoubleAB, nil
	default:
		return 0, errors.Errorf("unknown buffering mode %q", s)
	}
}

// SchedulerParams derives the scheduler's run parameters. The config
// must have been validated.
func (c *Config) SchedulerParams() scheduler.Params {
	buffering, _ := ParseBuffering(c.Buffering)
	return scheduler.Params{
		MatrixM: c.MatrixM, MatrixN: c.MatrixN, MatrixK: c.MatrixK,
		TileM: c.TileM, TileN: c.TileN, TileK: c.TileK,

		Buffering: buffering,

		BulkBaseA: c.BulkBaseA,
		BulkBaseB: c.BulkBaseB,
		BulkBaseC: c.BulkBaseC,

		LocalAPing: c.LocalAPing,
		LocalAPong: c.LocalAPong,
		LocalBPing: c.LocalBPing,
		LocalBPong: c.LocalBPong,
		LocalC:     c.LocalC,

		ElemSizeA: c.ElemSizeA,
		ElemSizeB: c.ElemSizeB,
		ElemSizeC: c.ElemSizeC,
	}
}

// PrefetchConfig derives the prefetch engine configuration.
func (c *Config) PrefetchConfig() prefetch.Config {
	return prefetch.Config{
		Depth:     c.PrefetchDepth,
		BeatBytes: c.BeatBytes,
	}
}

// BulkConfig derives the bulk transport configuration.
func (c *Config) BulkConfig() mem.BulkConfig {
	return mem.BulkConfig{
		BeatBytes: c.BeatBytes,
		Latency:   c.BulkLatency,
		Size:      c.BulkSize,
	}
}

// ComputeConfig derives the compute model configuration.
func (c *Config) ComputeConfig() compute.Config {
	return compute.Config{
		TileM: c.TileM, TileN: c.TileN, TileK: c.TileK,
		ElemA: elem.TypeForSize(c.ElemSizeA),
		ElemB: elem.TypeForSize(c.ElemSizeB),
		ElemC: elem.TypeForSize(c.ElemSizeC),
	}
}

// LoadConfig reads a configuration from a JSON file, applying defaults
// for absent fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	return cfg, nil
}

// SaveConfig writes a configuration to a JSON file.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "writing config file")
}
