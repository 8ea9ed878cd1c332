// Package config loads the cadence TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Queue contains synchronization queue and scheduler timing.
type Queue struct {
	BufferMs          int `toml:"buffer_ms"`
	TickMs            int `toml:"tick_ms"`
	FallbackTimeoutMs int `toml:"fallback_timeout_ms"`
	MaxLagMs          int `toml:"max_lag_ms"`
	PollMs            int `toml:"poll_ms"`
}

// Input describes one synthetic tone input.
type Input struct {
	ID          string  `toml:"id"`
	FrequencyHz float64 `toml:"frequency_hz"`
	Amplitude   float64 `toml:"amplitude"`
	Required    bool    `toml:"required"`
	// OffsetMs pins the input on the queue clock. Unset means the offset is
	// resolved when the input finishes buffering.
	OffsetMs     *int `toml:"offset_ms"`
	StartDelayMs int  `toml:"start_delay_ms"`
	// DurationMs ends the input with EOS after this long. Zero runs forever.
	DurationMs int `toml:"duration_ms"`
}

// Output contains packetization and transport settings.
type Output struct {
	ID          string `toml:"id"`
	Format      string `toml:"format"`
	MTU         int    `toml:"mtu"`
	PayloadType int    `toml:"payload_type"`
	SSRC        uint32 `toml:"ssrc"`
	TrackAlias  uint64 `toml:"track_alias"`
	SinkAddr    string `toml:"sink_addr"`
}

// Config encapsulates all configuration values.
//
// Sections:
//   - Queue: buffering and tick timing
//   - Inputs: synthetic tone sources
//   - Output: packet format, size limit and sink address
type Config struct {
	SampleRate int     `toml:"sample_rate"`
	Channels   int     `toml:"channels"`
	Queue      Queue   `toml:"queue"`
	Inputs     []Input `toml:"inputs"`
	Output     Output  `toml:"output"`
}

// Supported output formats.
const (
	FormatRTP = "rtp"
	FormatMoQ = "moq"
)

// Default returns the built-in configuration: one required tone at a fixed
// offset and one optional tone that joins later.
func Default() Config {
	zero := 0
	return Config{
		SampleRate: 48000,
		Channels:   2,
		Queue: Queue{
			BufferMs:          80,
			TickMs:            20,
			FallbackTimeoutMs: 40,
			PollMs:            5,
		},
		Inputs: []Input{
			{ID: "tone-a", FrequencyHz: 440, Amplitude: 0.3, Required: true, OffsetMs: &zero},
			{ID: "tone-b", FrequencyHz: 660, Amplitude: 0.2, StartDelayMs: 2000},
		},
		Output: Output{
			ID:          "main",
			Format:      FormatRTP,
			MTU:         1200,
			PayloadType: 96,
		},
	}
}

// Load parses the file at path over the defaults and validates the result.
// An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cfg, cfg.Validate()
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// Inputs from the file replace the default set entirely.
	cfg.Inputs = nil
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("sample_rate must be positive"))
	}
	if c.Channels != 1 && c.Channels != 2 {
		errs = append(errs, errors.New("channels must be 1 or 2"))
	}
	if c.Queue.TickMs <= 0 {
		errs = append(errs, errors.New("queue.tick_ms must be positive"))
	}
	if c.Queue.BufferMs < 0 || c.Queue.FallbackTimeoutMs < 0 || c.Queue.MaxLagMs < 0 || c.Queue.PollMs < 0 {
		errs = append(errs, errors.New("queue durations must not be negative"))
	}

	seen := make(map[string]bool, len(c.Inputs))
	for i, in := range c.Inputs {
		if strings.TrimSpace(in.ID) == "" {
			errs = append(errs, fmt.Errorf("inputs[%d].id must be set", i))
		} else if seen[in.ID] {
			errs = append(errs, fmt.Errorf("inputs[%d].id %q is duplicated", i, in.ID))
		}
		seen[in.ID] = true
		if in.FrequencyHz <= 0 {
			errs = append(errs, fmt.Errorf("inputs[%d].frequency_hz must be positive", i))
		}
		if in.Amplitude < 0 || in.Amplitude > 1 {
			errs = append(errs, fmt.Errorf("inputs[%d].amplitude must be between 0 and 1", i))
		}
		if in.OffsetMs != nil && *in.OffsetMs < 0 {
			errs = append(errs, fmt.Errorf("inputs[%d].offset_ms must not be negative", i))
		}
	}

	switch c.Output.Format {
	case FormatRTP, FormatMoQ:
	default:
		errs = append(errs, fmt.Errorf("output.format %q must be %q or %q", c.Output.Format, FormatRTP, FormatMoQ))
	}
	if c.Output.MTU <= 0 {
		errs = append(errs, errors.New("output.mtu must be positive"))
	}
	if c.Output.PayloadType < 0 || c.Output.PayloadType > 127 {
		errs = append(errs, errors.New("output.payload_type must be between 0 and 127"))
	}
	return errors.Join(errs...)
}

// Ms converts a millisecond config field to a Duration.
func Ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
