package moq

import "errors"

// Sentinel errors returned (wrapped in packet.PayloadingError) by the
// Payloader.
var (
	ErrUnknownTrack = errors.New("moq: no track for media kind")
	ErrMTUTooSmall  = errors.New("moq: mtu too small for object header")
)
