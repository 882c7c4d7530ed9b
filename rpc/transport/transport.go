package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"github.com/statq/statq/rpc/common"
)

var logger = common.GetLogger("transport")

const (
	// headerSize is the fixed length prefix: one unsigned big-endian uint32
	// counting body bytes only.
	headerSize = 4

	// readChunkSize bounds a single body read so one call never blocks on
	// more than this many bytes.
	readChunkSize = 8 * 1024
)

// Transport frames Messages onto a duplex connection. Each frame is a 4-byte
// big-endian length prefix followed by that many bytes of UTF-8 JSON.
//
// A Transport is stateless between calls and safe for use across any number
// of connections. On a single connection one Read and one Write may run
// concurrently (they touch independent deadlines), but concurrent readers or
// concurrent writers must be serialized by the caller.
type Transport struct {
	cfg common.TransportConfig
}

// New creates a Transport with the given limits. Zero limits are filled from
// DefaultTransportConfig.
func New(cfg common.TransportConfig) *Transport {
	def := common.DefaultTransportConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = def.HeaderTimeout
	}
	if cfg.BodyTimeout <= 0 {
		cfg.BodyTimeout = def.BodyTimeout
	}
	if cfg.BodyTimeoutPerMB <= 0 {
		cfg.BodyTimeoutPerMB = def.BodyTimeoutPerMB
	}
	return &Transport{cfg: cfg}
}

// --------------------------------------------------------------------------
// Frame Writer
// --------------------------------------------------------------------------

// Write serializes msg and writes one complete frame to conn. Either the
// whole frame is handed to the socket or a typed error is returned, a short
// write is never reported as success.
func (t *Transport) Write(conn net.Conn, msg *common.Message) error {
	data, err := msg.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message %q: %w", msg.MsgType, err)
	}
	if len(data) > t.cfg.MaxMessageSize {
		return fmt.Errorf("%w: frame of %d bytes, limit %d", ErrMessageTooLarge, len(data), t.cfg.MaxMessageSize)
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	if t.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	// net.Buffers retries short writes until the full frame is out
	b := net.Buffers{header, data}
	if _, err := b.WriteTo(conn); err != nil {
		err = classify(fmt.Sprintf("write message %q", msg.MsgType), err)
		logger.Warn().Err(err).Msg("frame write failed")
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Frame Reader
// --------------------------------------------------------------------------

// Read receives one complete frame from conn and decodes it.
//
// Returns io.EOF if the peer closed the connection cleanly between frames,
// otherwise an error from the taxonomy in errors.go. Callers loop over Read
// for successive messages.
func (t *Transport) Read(conn net.Conn) (*common.Message, error) {
	// Header phase: wait at most HeaderTimeout for the next frame to begin.
	restore := t.scopeReadDeadline(conn, t.cfg.HeaderTimeout)
	header := make([]byte, headerSize)
	_, err := io.ReadFull(conn, header)
	restore()

	if err != nil {
		if errors.Is(err, io.EOF) {
			// clean close between frames
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: connection closed inside frame header", ErrConnectionLost)
		}
		return nil, classify("read frame header", err)
	}

	// Compare in uint64 so a length above 2^31 cannot wrap negative on
	// 32-bit targets and slip past the guard.
	declared := binary.BigEndian.Uint32(header)
	if uint64(declared) > uint64(t.cfg.MaxMessageSize) {
		// A hostile or corrupt length field. Close the socket so no further
		// reads happen on an untrustworthy stream.
		logger.Error().
			Uint32("declared", declared).
			Int("limit", t.cfg.MaxMessageSize).
			Msg("frame exceeds size limit, closing connection")
		_ = conn.Close()
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrMessageTooLarge, declared, t.cfg.MaxMessageSize)
	}
	msgLen := int(declared)

	// Body phase: deadline scales with the declared length.
	restore = t.scopeReadDeadline(conn, t.bodyTimeout(msgLen))
	body, err := t.readBody(conn, msgLen)
	restore()
	if err != nil {
		return nil, err
	}

	// Decode phase. The frame was fully received, so a failure here does not
	// invalidate the connection.
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: frame body is not valid UTF-8", ErrMalformedPayload)
	}
	msg, err := common.Deserialize(body)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// readBody accumulates exactly msgLen bytes in bounded chunks. Correctness
// does not depend on any single read returning its full requested size.
func (t *Transport) readBody(conn net.Conn, msgLen int) ([]byte, error) {
	body := make([]byte, 0, msgLen)
	chunk := make([]byte, readChunkSize)
	for len(body) < msgLen {
		want := msgLen - len(body)
		if want > readChunkSize {
			want = readChunkSize
		}
		n, err := conn.Read(chunk[:want])
		if n > 0 {
			body = append(body, chunk[:n]...)
		}
		// A reader may return the final bytes together with io.EOF. The
		// error only matters while the body is still short.
		if err != nil && len(body) < msgLen {
			if errors.Is(err, io.EOF) {
				// Losing the peer mid-frame is always an error, unlike the
				// clean close in the header phase.
				return nil, fmt.Errorf("%w: connection closed after %d of %d body bytes",
					ErrConnectionLost, len(body), msgLen)
			}
			return nil, classify("read frame body", err)
		}
	}
	return body, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// scopeReadDeadline overrides the read deadline for one phase. The returned
// function restores the ambient deadline and must run on every exit path, so
// the override never leaks onto a socket shared with other operations.
func (t *Transport) scopeReadDeadline(conn net.Conn, d time.Duration) func() {
	_ = conn.SetReadDeadline(time.Now().Add(d))
	return func() {
		if t.cfg.AmbientTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(t.cfg.AmbientTimeout))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}
	}
}

// bodyTimeout grants a floor plus a per-megabyte allowance, so a large
// legitimate payload is not starved while a small one still fails fast.
func (t *Transport) bodyTimeout(msgLen int) time.Duration {
	mb := time.Duration(msgLen / (1000 * 1000))
	return t.cfg.BodyTimeout + mb*t.cfg.BodyTimeoutPerMB
}
