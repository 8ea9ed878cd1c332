package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/synth"
	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/moq"
	"github.com/zsiec/cadence/output"
	"github.com/zsiec/cadence/packet"
	"github.com/zsiec/cadence/packet/rtp"
	"github.com/zsiec/cadence/pipeline"
	"github.com/zsiec/cadence/queue"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mix the configured inputs and packetize the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			cfg.Output.SinkAddr = envOr("CADENCE_SINK_ADDR", cfg.Output.SinkAddr)

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return run(ctx, cfg)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	slog.Info("cadence starting",
		"version", version,
		"inputs", len(cfg.Inputs),
		"format", cfg.Output.Format,
		"mtu", cfg.Output.MTU,
		"sink", cfg.Output.SinkAddr,
	)

	q := queue.New(queue.Config{BufferDuration: config.Ms(cfg.Queue.BufferMs)})
	mixer := synth.NewMixer(cfg.SampleRate, cfg.Channels, nil)
	sched := pipeline.New(q, pipeline.Config{
		Tick:            config.Ms(cfg.Queue.TickMs),
		FallbackTimeout: config.Ms(cfg.Queue.FallbackTimeoutMs),
		MaxLag:          config.Ms(cfg.Queue.MaxLagMs),
		PollInterval:    config.Ms(cfg.Queue.PollMs),
	}, mixer, nil)

	payloader, err := newPayloader(cfg)
	if err != nil {
		return err
	}
	sender, closeSender, err := newSender(cfg.Output.SinkAddr)
	if err != nil {
		return err
	}
	defer closeSender()

	outputs := output.NewManager(nil)
	stream := packet.NewStream(mixer.Output(), payloader, cfg.Output.MTU)
	// The pump ends on its own once the mixer closes the encoder channel.
	out, _ := outputs.Register(context.Background(), media.OutputID(cfg.Output.ID), stream, sender)

	g, gctx := errgroup.WithContext(ctx)

	for _, in := range cfg.Inputs {
		ch := make(chan media.PipelineEvent[media.SampleBatch], media.InputBufferSize)
		opts := queue.InputOptions{Required: in.Required}
		if in.OffsetMs != nil {
			off := config.Ms(*in.OffsetMs)
			opts.Offset = &off
		}
		q.AddInput(media.InputID(in.ID), ch, opts)

		tone := synth.Tone{
			FrequencyHz: in.FrequencyHz,
			Amplitude:   in.Amplitude,
			SampleRate:  cfg.SampleRate,
			Channels:    cfg.Channels,
			Batch:       config.Ms(cfg.Queue.TickMs),
			// Distinct non-zero local clocks per input.
			Origin:      time.Duration(len(in.ID)) * time.Second,
			StartDelay:  config.Ms(in.StartDelayMs),
			Duration:    config.Ms(in.DurationMs),
		}
		g.Go(func() error {
			return tone.Run(gctx, ch)
		})
	}

	g.Go(func() error {
		defer mixer.Close()
		return sched.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				d := sched.Debug()
				s := out.Stats()
				slog.Info("stats",
					"ticks", d.TicksEmitted,
					"fallbacks", d.Fallbacks,
					"holds", d.Holds,
					"skips", d.SkipAheads,
					"packets", s.Packets,
					"bytes", s.Bytes,
					"payload_errors", s.PayloadErrors,
				)
			}
		}
	})

	err = g.Wait()
	if werr := outputs.Wait(); werr != nil && err == nil {
		err = werr
	}
	slog.Info("cadence stopped", "packets", out.Stats().Packets)
	return err
}

func newPayloader(cfg config.Config) (packet.Payloader, error) {
	switch cfg.Output.Format {
	case config.FormatMoQ:
		return moq.NewPayloader(moq.Config{
			Audio: &moq.TrackConfig{TrackAlias: cfg.Output.TrackAlias},
		}), nil
	default:
		p, err := rtp.NewPayloader(rtp.Config{
			Audio: &rtp.TrackConfig{
				Codec:       rtp.CodecL16,
				PayloadType: uint8(cfg.Output.PayloadType),
				ClockRate:   uint32(cfg.SampleRate),
				SSRC:        cfg.Output.SSRC,
				Channels:    cfg.Channels,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("rtp payloader: %w", err)
		}
		return p, nil
	}
}

func newSender(addr string) (output.Sender, func(), error) {
	if addr == "" {
		slog.Warn("no sink address configured, discarding packets")
		return output.Discard{}, func() {}, nil
	}
	s, err := output.DialUDP(addr)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "close sink:", err)
		}
	}, nil
}
