// Package rtp implements a packet.Payloader that emits RTP packets for
// encoded chunks and RTCP BYE packets for end-of-stream.
package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/packet"
)

// HeaderSize is the size of an RTP header without CSRCs or extensions.
const HeaderSize = 12

// Supported codec names.
const (
	CodecOpus = "opus"
	CodecL16  = "l16"
	CodecH264 = "h264"
	CodecVP8  = "vp8"
)

var (
	ErrNoTrack        = errors.New("rtp: no track for media kind")
	ErrMTUTooSmall    = errors.New("rtp: mtu too small for header")
	ErrEmptyChunk     = errors.New("rtp: chunk produced no packets")
	ErrPacketTooLarge = errors.New("rtp: packet exceeds mtu")
)

// Compile-time interface check.
var _ packet.Payloader = (*Payloader)(nil)

// TrackConfig describes one RTP track.
type TrackConfig struct {
	Codec       string
	PayloadType uint8
	ClockRate   uint32
	// SSRC of the track. Zero picks a random one.
	SSRC uint32
	// Channels is only used by L16 to keep packets on frame boundaries.
	Channels int
}

// Config selects the tracks a Payloader carries. Either may be nil.
type Config struct {
	Audio *TrackConfig
	Video *TrackConfig
}

type track struct {
	cfg       TrackConfig
	payloader rtp.Payloader
	sequencer rtp.Sequencer
	eosSent   bool
}

// Payloader packetizes audio and video chunks onto separate RTP tracks.
// Each track's BYE packet is handed out once.
type Payloader struct {
	audio *track
	video *track
}

// NewPayloader builds a Payloader for the configured tracks.
func NewPayloader(cfg Config) (*Payloader, error) {
	p := &Payloader{}
	var err error
	if cfg.Audio != nil {
		if p.audio, err = newTrack(*cfg.Audio); err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
	}
	if cfg.Video != nil {
		if p.video, err = newTrack(*cfg.Video); err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
	}
	return p, nil
}

func newTrack(cfg TrackConfig) (*track, error) {
	var pl rtp.Payloader
	switch cfg.Codec {
	case CodecOpus:
		pl = &codecs.OpusPayloader{}
	case CodecL16:
		pl = &L16Payloader{Channels: cfg.Channels}
	case CodecH264:
		pl = &codecs.H264Payloader{}
	case CodecVP8:
		pl = &codecs.VP8Payloader{}
	default:
		return nil, fmt.Errorf("rtp: unsupported codec %q", cfg.Codec)
	}
	if cfg.ClockRate == 0 {
		return nil, fmt.Errorf("rtp: %s: clock rate must be set", cfg.Codec)
	}
	if cfg.SSRC == 0 {
		cfg.SSRC = RandomSSRC()
	}
	return &track{
		cfg:       cfg,
		payloader: pl,
		sequencer: rtp.NewRandomSequencer(),
	}, nil
}

// RandomSSRC returns a non-zero SSRC derived from a random UUID.
func RandomSSRC() uint32 {
	for {
		u := uuid.New()
		if ssrc := binary.BigEndian.Uint32(u[:4]); ssrc != 0 {
			return ssrc
		}
	}
}

// SSRC returns the SSRC of the track carrying kind, or 0.
func (p *Payloader) SSRC(kind media.Kind) uint32 {
	if t := p.track(kind); t != nil {
		return t.cfg.SSRC
	}
	return 0
}

func (p *Payloader) track(kind media.Kind) *track {
	if kind == media.KindVideo {
		return p.video
	}
	return p.audio
}

func (p *Payloader) Payload(maxSize int, chunk media.EncodedChunk) ([][]byte, error) {
	t := p.track(chunk.Kind)
	if t == nil {
		return nil, &packet.PayloadingError{Kind: chunk.Kind, Err: ErrNoTrack}
	}
	if maxSize <= HeaderSize {
		return nil, &packet.PayloadingError{Kind: chunk.Kind, Err: ErrMTUTooSmall}
	}
	mtu := min(maxSize-HeaderSize, math.MaxUint16)

	frags := t.payloader.Payload(uint16(mtu), chunk.Data)
	if len(frags) == 0 {
		return nil, &packet.PayloadingError{Kind: chunk.Kind, Err: ErrEmptyChunk}
	}

	ts := rtpTimestamp(chunk.PTS, t.cfg.ClockRate)
	out := make([][]byte, 0, len(frags))
	for i, frag := range frags {
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(frags)-1,
				PayloadType:    t.cfg.PayloadType,
				SequenceNumber: t.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           t.cfg.SSRC,
			},
			Payload: frag,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return nil, &packet.PayloadingError{Kind: chunk.Kind, Err: err}
		}
		if len(raw) > maxSize {
			return nil, &packet.PayloadingError{Kind: chunk.Kind, Err: ErrPacketTooLarge}
		}
		out = append(out, raw)
	}
	return out, nil
}

func (p *Payloader) AudioEOS() ([]byte, bool, error) {
	return p.eos(p.audio, media.KindAudio)
}

func (p *Payloader) VideoEOS() ([]byte, bool, error) {
	return p.eos(p.video, media.KindVideo)
}

func (p *Payloader) eos(t *track, kind media.Kind) ([]byte, bool, error) {
	if t == nil || t.eosSent {
		return nil, false, nil
	}
	t.eosSent = true
	raw, err := (&rtcp.Goodbye{Sources: []uint32{t.cfg.SSRC}}).Marshal()
	if err != nil {
		return nil, true, &packet.PayloadingError{Kind: kind, Err: err}
	}
	return raw, true, nil
}

// rtpTimestamp converts pts to clockRate units, wrapping at 32 bits.
func rtpTimestamp(pts time.Duration, clockRate uint32) uint32 {
	secs := uint64(pts / time.Second)
	rem := uint64(pts % time.Second)
	return uint32(secs*uint64(clockRate) + rem*uint64(clockRate)/uint64(time.Second))
}
