// Package packet converts encoder output into a pull-driven sequence of
// size-bounded transport packets.
package packet

import (
	"io"
	"iter"

	"github.com/zsiec/cadence/media"
)

// Stream is a single-consumer, non-restartable packet sequence fed by one
// encoder output channel. Nothing is produced ahead of the consumer beyond
// the packets of the most recent chunk.
type Stream struct {
	events    <-chan media.EncoderOutputEvent
	payloader Payloader
	mtu       int
	pending   [][]byte
	done      bool
}

// NewStream returns a Stream reading from events and packetizing with p
// under the given maximum packet size.
func NewStream(events <-chan media.EncoderOutputEvent, p Payloader, mtu int) *Stream {
	return &Stream{
		events:    events,
		payloader: p,
		mtu:       mtu,
	}
}

// Next returns the next packet. It blocks until the encoder produces an
// event. Payloading errors are returned for that call only and the stream
// stays usable. Once the channel is closed and both end-of-stream packets
// have been emitted, Next returns io.EOF on every call.
func (s *Stream) Next() ([]byte, error) {
	if len(s.pending) > 0 {
		pkt := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		return pkt, nil
	}
	if s.done {
		return nil, io.EOF
	}

	ev, ok := <-s.events
	if !ok {
		return s.drain()
	}

	switch ev.Type {
	case media.EncoderAudioEOS:
		pkt, ok, err := s.payloader.AudioEOS()
		if !ok {
			return nil, ErrAudioEOSAlreadySent
		}
		return pkt, err
	case media.EncoderVideoEOS:
		pkt, ok, err := s.payloader.VideoEOS()
		if !ok {
			return nil, ErrVideoEOSAlreadySent
		}
		return pkt, err
	}

	packets, err := s.payloader.Payload(s.mtu, ev.Chunk)
	if err != nil {
		return nil, err
	}
	// Payload always yields at least one packet for a chunk.
	s.pending = packets[1:]
	return packets[0], nil
}

// drain emits any end-of-stream packet the producer never asked for, then
// ends the sequence.
func (s *Stream) drain() ([]byte, error) {
	if pkt, ok, err := s.payloader.AudioEOS(); ok {
		return pkt, err
	}
	if pkt, ok, err := s.payloader.VideoEOS(); ok {
		return pkt, err
	}
	s.done = true
	return nil, io.EOF
}

// All iterates over the remaining packets and errors until io.EOF.
func (s *Stream) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			pkt, err := s.Next()
			if err == io.EOF {
				return
			}
			if !yield(pkt, err) {
				return
			}
		}
	}
}
