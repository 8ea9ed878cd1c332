// Package output pumps packet streams into transport senders and tracks the
// lifecycle of each registered output.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/packet"
)

// Sender hands one packet to the transport. Implementations own the socket.
type Sender interface {
	Send(pkt []byte) error
}

// Stats captures per-output delivery counters.
type Stats struct {
	ID            media.OutputID `json:"id"`
	Packets       int64          `json:"packets"`
	Bytes         int64          `json:"bytes"`
	PayloadErrors int64          `json:"payloadErrors"`
	UptimeMs      int64          `json:"uptimeMs"`
}

// Output is one registered packet stream and its sender.
type Output struct {
	ID        media.OutputID
	StartedAt time.Time
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	packets       atomic.Int64
	bytes         atomic.Int64
	payloadErrors atomic.Int64
}

// Done is closed once the output's pump has returned.
func (o *Output) Done() <-chan struct{} {
	return o.done
}

// Stats returns a snapshot of the output counters.
func (o *Output) Stats() Stats {
	return Stats{
		ID:            o.ID,
		Packets:       o.packets.Load(),
		Bytes:         o.bytes.Load(),
		PayloadErrors: o.payloadErrors.Load(),
		UptimeMs:      time.Since(o.StartedAt).Milliseconds(),
	}
}

// Manager runs one pump goroutine per output.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	outputs map[media.OutputID]*Output
	g       errgroup.Group
}

// NewManager creates a new output manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "output-manager"),
		outputs: make(map[media.OutputID]*Output),
	}
}

// Register starts pulling packets from s and sending them through sender.
// Returns the output and true if registered, or nil and false if an output
// with this id already exists.
func (m *Manager) Register(ctx context.Context, id media.OutputID, s *packet.Stream, sender Sender) (*Output, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.outputs[id]; ok {
		m.log.Warn("output already exists, rejecting duplicate", "id", id)
		return nil, false
	}

	o := &Output{
		ID:        id,
		StartedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.outputs[id] = o
	m.g.Go(func() error {
		defer m.finish(o)
		return m.pump(ctx, o, s, sender)
	})
	m.log.Info("output registered", "id", id)
	return o, true
}

// Remove stops an output. The pump exits before its next pull; a pull that
// is already blocked on the encoder ends when the encoder channel closes.
func (m *Manager) Remove(id media.OutputID) {
	m.mu.Lock()
	o, ok := m.outputs[id]
	if ok {
		delete(m.outputs, id)
	}
	m.mu.Unlock()

	if ok {
		o.stopOnce.Do(func() { close(o.stop) })
		m.log.Info("output removed", "id", id)
	}
}

// List returns all active outputs.
func (m *Manager) List() []*Output {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outputs := make([]*Output, 0, len(m.outputs))
	for _, o := range m.outputs {
		outputs = append(outputs, o)
	}
	return outputs
}

// Wait blocks until every pump has returned and reports the first
// transport failure.
func (m *Manager) Wait() error {
	return m.g.Wait()
}

func (m *Manager) finish(o *Output) {
	m.mu.Lock()
	if m.outputs[o.ID] == o {
		delete(m.outputs, o.ID)
	}
	m.mu.Unlock()
	close(o.done)
}

func (m *Manager) pump(ctx context.Context, o *Output, s *packet.Stream, sender Sender) error {
	log := m.log.With("output", o.ID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.stop:
			return nil
		default:
		}

		pkt, err := s.Next()
		if errors.Is(err, io.EOF) {
			log.Info("packet stream finished", "packets", o.packets.Load())
			return nil
		}
		if err != nil {
			o.payloadErrors.Add(1)
			log.Warn("payloading failed", "error", err)
			continue
		}

		if err := sender.Send(pkt); err != nil {
			return fmt.Errorf("output %s: send: %w", o.ID, err)
		}
		o.packets.Add(1)
		o.bytes.Add(int64(len(pkt)))
	}
}
