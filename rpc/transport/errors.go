package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/statq/statq/rpc/common"
)

// The reader and writer never recover locally. Every failure is classified
// into one of a small closed set of errors so the caller can choose between
// retrying on the same connection and tearing it down. A clean close between
// frames is reported as io.EOF and is not an error.
var (
	// ErrTimeout means a socket deadline expired. The connection may still
	// be usable, the caller can retry the operation.
	ErrTimeout = errors.New("socket operation timed out")

	// ErrConnectionLost means the peer disappeared mid-frame or the socket
	// failed. The connection must be closed and re-established.
	ErrConnectionLost = errors.New("connection lost")

	// ErrMessageTooLarge means the peer declared a frame above the
	// configured maximum. The reader has already closed the connection, the
	// caller must not reuse it.
	ErrMessageTooLarge = errors.New("message exceeds size limit")

	// ErrMalformedPayload means a fully received frame body could not be
	// decoded. The connection itself is still framed correctly and may be
	// kept.
	ErrMalformedPayload = common.ErrMalformed
)

// classify maps a raw socket error onto the taxonomy above, preserving the
// cause in the message.
func classify(op string, err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnectionLost, op, err)
}
