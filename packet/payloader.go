package packet

import "github.com/zsiec/cadence/media"

// Payloader turns encoded chunks into transport packets. Implementations
// keep one-shot end-of-stream state per media kind.
type Payloader interface {
	// Payload splits chunk into packets no larger than maxSize, in send
	// order. A successful call returns at least one packet.
	Payload(maxSize int, chunk media.EncodedChunk) ([][]byte, error)
	// AudioEOS returns the audio end-of-stream packet. ok is false when
	// there is none to give, either because it was already returned or
	// because the payloader carries no audio.
	AudioEOS() (pkt []byte, ok bool, err error)
	// VideoEOS is AudioEOS for the video track.
	VideoEOS() (pkt []byte, ok bool, err error)
}
