package packet

import (
	"errors"
	"fmt"

	"github.com/zsiec/cadence/media"
)

// Sentinel errors for duplicate end-of-stream markers. An upstream producer
// that sends the same marker twice has violated the encoder protocol.
var (
	ErrAudioEOSAlreadySent = errors.New("packet: audio EOS already sent")
	ErrVideoEOSAlreadySent = errors.New("packet: video EOS already sent")
)

// PayloadingError reports a strategy failure while building packets for a
// chunk of the given kind.
type PayloadingError struct {
	Kind media.Kind
	Err  error
}

func (e *PayloadingError) Error() string {
	return fmt.Sprintf("packet: payload %s: %v", e.Kind, e.Err)
}

func (e *PayloadingError) Unwrap() error {
	return e.Err
}
