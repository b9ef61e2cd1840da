package collaboration

import (
	"errors"
)

// Rejections reported to the originating connection only.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotJoined      = errors.New("not joined to a group")
	ErrGroupMismatch  = errors.New("user not in specified room")
	ErrUnsupported    = errors.New("request not supported in this mode")
)

// ErrUnknownSession marks operations on a connection that is already gone.
// They are ignored, never reported.
var ErrUnknownSession = errors.New("unknown session")

// ErrClosed is returned by Connect once the controller has shut down.
var ErrClosed = errors.New("controller is shut down")

// ErrInternal is what the sender sees when handling its event panicked.
var ErrInternal = errors.New("internal error")

// Delivery failures, isolated to the one recipient.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// rejectionReason is the text sent in a rejected event
func rejectionReason(err error) string {
	if errors.Is(err, ErrInternal) {
		return ErrInternal.Error()
	}
	return err.Error()
}
