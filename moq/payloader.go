package moq

import (
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/packet"
)

// Compile-time interface check.
var _ packet.Payloader = (*Payloader)(nil)

// MoQ stream type constants (draft-ietf-moq-transport-15).
const (
	// streamTypeSubgroupSIDExt indicates a subgroup stream with an explicit
	// Subgroup ID in the header and per-object extension headers.
	streamTypeSubgroupSIDExt uint64 = 0x0d
)

// Object status values.
const (
	StatusNormal     uint64 = 0x0
	StatusEndOfGroup uint64 = 0x3
	StatusEndOfTrack uint64 = 0x4
)

// LOC header extension IDs (draft-ietf-moq-loc-01).
const (
	locExtCaptureTimestamp  uint64 = 2 // even: varint value = microseconds
	locExtVideoFrameMarking uint64 = 4 // even: varint value = RFC 9626 flags
)

// RFC 9626 Video Frame Marking flags (non-scalable).
const (
	vfmKeyframe    uint64 = 0xE0 // S=1, E=1, I=1
	vfmNonKeyframe uint64 = 0xC0 // S=1, E=1, I=0
)

// TrackConfig describes one MoQ track.
type TrackConfig struct {
	TrackAlias        uint64
	PublisherPriority byte
	// StripADTS removes ADTS headers from AAC audio chunks.
	StripADTS bool
	// AVC1 converts Annex B video chunks to length-prefixed NALUs.
	AVC1 bool
}

// Config selects the tracks a Payloader carries. Either may be nil.
type Config struct {
	Audio *TrackConfig
	Video *TrackConfig
}

type track struct {
	cfg      TrackConfig
	groupID  uint64
	objectID uint64
	started  bool
	eosSent  bool
}

// Payloader frames each chunk as one MoQ object on its track's subgroup
// stream. The bytes of consecutive packets of a track, concatenated, form
// a valid subgroup stream; every packet that starts an object carries the
// complete object header.
type Payloader struct {
	audio *track
	video *track
}

// NewPayloader returns a Payloader for the configured tracks.
func NewPayloader(cfg Config) *Payloader {
	p := &Payloader{}
	if cfg.Audio != nil {
		p.audio = &track{cfg: *cfg.Audio}
	}
	if cfg.Video != nil {
		p.video = &track{cfg: *cfg.Video}
	}
	return p
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
		return nil, &packet.PayloadingError{Kind: chunk.Kind, Err: ErrUnknownTrack}
	}

	payload := chunk.Data
	var exts []byte
	exts = quicvarint.Append(exts, locExtCaptureTimestamp)
	exts = quicvarint.Append(exts, uint64(max(chunk.PTS.Microseconds(), 0)))

	switch chunk.Kind {
	case media.KindAudio:
		if t.cfg.StripADTS {
			payload = StripADTS(payload)
		}
	case media.KindVideo:
		if t.cfg.AVC1 {
			if nalus := SplitAnnexB(payload); nalus != nil {
				payload = AnnexBToAVC1(nalus)
			}
		}
		exts = quicvarint.Append(exts, locExtVideoFrameMarking)
		if chunk.IsKeyframe {
			exts = quicvarint.Append(exts, vfmKeyframe)
		} else {
			exts = quicvarint.Append(exts, vfmNonKeyframe)
		}
	}

	// A video keyframe opens a new group on a fresh subgroup stream.
	groupID, objectID := t.groupID, t.objectID
	newGroup := !t.started
	if t.started && chunk.Kind == media.KindVideo && chunk.IsKeyframe {
		groupID++
		objectID = 0
		newGroup = true
	}

	var hdr []byte
	if newGroup {
		hdr = t.appendStreamHeader(hdr, groupID)
	}
	hdr = quicvarint.Append(hdr, objectID)
	hdr = quicvarint.Append(hdr, uint64(len(exts)))
	hdr = append(hdr, exts...)
	hdr = quicvarint.Append(hdr, uint64(len(payload)))
	if len(payload) == 0 {
		hdr = quicvarint.Append(hdr, StatusNormal)
	}
	if len(hdr) > maxSize {
		return nil, &packet.PayloadingError{Kind: chunk.Kind, Err: ErrMTUTooSmall}
	}

	t.started = true
	t.groupID = groupID
	t.objectID = objectID + 1

	return split(append(hdr, payload...), maxSize), nil
}

func (p *Payloader) AudioEOS() ([]byte, bool, error) {
	return p.eos(p.audio)
}

func (p *Payloader) VideoEOS() ([]byte, bool, error) {
	return p.eos(p.video)
}

// eos emits an End of Track status object.
func (p *Payloader) eos(t *track) ([]byte, bool, error) {
	if t == nil || t.eosSent {
		return nil, false, nil
	}
	t.eosSent = true

	var buf []byte
	if !t.started {
		buf = t.appendStreamHeader(buf, t.groupID)
		t.started = true
	}
	buf = quicvarint.Append(buf, t.objectID)
	buf = quicvarint.Append(buf, 0) // no extensions
	buf = quicvarint.Append(buf, 0) // zero-length payload
	buf = quicvarint.Append(buf, StatusEndOfTrack)
	t.objectID++
	return buf, true, nil
}

func (t *track) appendStreamHeader(buf []byte, groupID uint64) []byte {
	buf = quicvarint.Append(buf, streamTypeSubgroupSIDExt)
	buf = quicvarint.Append(buf, t.cfg.TrackAlias)
	buf = quicvarint.Append(buf, groupID)
	buf = quicvarint.Append(buf, 0) // subgroup ID
	return append(buf, t.cfg.PublisherPriority)
}

func split(buf []byte, maxSize int) [][]byte {
	out := make([][]byte, 0, (len(buf)+maxSize-1)/maxSize)
	for len(buf) > 0 {
		n := min(maxSize, len(buf))
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out
}
