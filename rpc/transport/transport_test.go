package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/statq/statq/rpc/common"
)

// testConfig returns limits small and fast enough for unit tests. The header
// timeout is generous so tests that never stall cannot flake on slow machines.
func testConfig() common.TransportConfig {
	return common.TransportConfig{
		MaxMessageSize:   10_000_000,
		HeaderTimeout:    5 * time.Second,
		BodyTimeout:      5 * time.Second,
		BodyTimeoutPerMB: 2 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// rawFrame builds a wire frame by hand: 4-byte big-endian length plus body.
func rawFrame(body []byte) []byte {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

func TestWriteReadRoundTrip(t *testing.T) {
	messages := []*common.Message{
		// empty payload ("ping" shape)
		common.NewMessage("PING", nil),

		// typical request
		common.NewLoginRequest("ada@example.com", "secret"),

		// nested payload
		common.NewQueryRequest("req-1", "age_distribution", map[string]any{
			"bin_width": float64(10),
			"areas":     []any{"Central", "Harbor"},
		}, true),
	}

	tr := New(testConfig())
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	for i, msg := range messages {
		writeErr := make(chan error, 1)
		go func() { writeErr <- tr.Write(c1, msg) }()

		got, err := tr.Read(c2)
		if err != nil {
			t.Fatalf("message %d: read failed: %v", i, err)
		}
		if err := <-writeErr; err != nil {
			t.Fatalf("message %d: write failed: %v", i, err)
		}

		if got.MsgType != msg.MsgType {
			t.Errorf("message %d: type changed: %s != %s", i, got.MsgType, msg.MsgType)
		}
		if !reflect.DeepEqual(got.Data, msg.Data) {
			t.Errorf("message %d: payload changed:\nsent:     %+v\nreceived: %+v", i, msg.Data, got.Data)
		}
	}
}

// TestReadPartialDelivery feeds a frame one byte at a time. The reader must
// accumulate across arbitrarily fragmented reads.
func TestReadPartialDelivery(t *testing.T) {
	msg := common.NewQueryRequest("req-2", "top_charge_groups", map[string]any{"limit": float64(5)}, false)
	body, err := msg.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	frame := rawFrame(body)

	tr := New(testConfig())
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		for i := range frame {
			if _, err := c1.Write(frame[i : i+1]); err != nil {
				return
			}
		}
	}()

	got, err := tr.Read(c2)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !reflect.DeepEqual(got.Data, msg.Data) {
		t.Errorf("payload changed:\nsent:     %+v\nreceived: %+v", msg.Data, got.Data)
	}
}

// scriptedConn replays a fixed sequence of read results, so reader edge
// cases the kernel rarely produces can be forced deterministically.
type scriptedConn struct {
	script []readStep
}

type readStep struct {
	data []byte
	err  error
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	if len(c.script) == 0 {
		return 0, io.EOF
	}
	step := c.script[0]
	n := copy(p, step.data)
	if n < len(step.data) {
		c.script[0].data = step.data[n:]
		return n, nil
	}
	c.script = c.script[1:]
	return n, step.err
}

func (c *scriptedConn) Write(p []byte) (int, error)      { return len(p), nil }
func (c *scriptedConn) Close() error                     { return nil }
func (c *scriptedConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *scriptedConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *scriptedConn) SetDeadline(time.Time) error      { return nil }
func (c *scriptedConn) SetReadDeadline(time.Time) error  { return nil }
func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

// TestReadFinalBytesWithEOF covers the io.Reader contract clause that a
// read may return its data together with io.EOF. A frame whose last body
// bytes arrive that way is complete, not a lost connection.
func TestReadFinalBytesWithEOF(t *testing.T) {
	msg := common.NewMessage("PING", nil)
	body, err := msg.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	frame := rawFrame(body)

	cases := map[string][]readStep{
		"eof on full body": {
			{data: frame[:4]},
			{data: frame[4:], err: io.EOF},
		},
		"eof on last byte": {
			{data: frame[:4]},
			{data: frame[4 : len(frame)-1]},
			{data: frame[len(frame)-1:], err: io.EOF},
		},
	}

	tr := New(testConfig())
	for name, script := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := tr.Read(&scriptedConn{script: script})
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if got.MsgType != "PING" {
				t.Errorf("unexpected message: %+v", got)
			}
		})
	}
}

// TestReadCleanClose verifies that a peer disconnecting between frames is
// reported as io.EOF, not as an error from the taxonomy.
func TestReadCleanClose(t *testing.T) {
	tr := New(testConfig())
	c1, c2 := net.Pipe()
	defer c2.Close()

	c1.Close()

	_, err := tr.Read(c2)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on clean close, got %v", err)
	}
	if errors.Is(err, ErrConnectionLost) {
		t.Fatal("clean close must not be classified as connection loss")
	}
}

// TestReadTruncatedHeader verifies that a peer dying inside the 4-byte header
// is reported as connection loss.
func TestReadTruncatedHeader(t *testing.T) {
	tr := New(testConfig())
	c1, c2 := net.Pipe()
	defer c2.Close()

	go func() {
		c1.Write([]byte{0x00, 0x00})
		c1.Close()
	}()

	_, err := tr.Read(c2)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

// TestReadTruncatedBody verifies that a peer dying mid-body is reported as
// connection loss, never as a short but successful read.
func TestReadTruncatedBody(t *testing.T) {
	tr := New(testConfig())
	c1, c2 := net.Pipe()
	defer c2.Close()

	go func() {
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, 50)
		c1.Write(header)
		c1.Write([]byte(`{"msg_type`)) // 10 of the declared 50 bytes
		c1.Close()
	}()

	_, err := tr.Read(c2)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

// TestReadOversizedFrame sends a declared length of 200,000,000 bytes against
// the configured maximum of 10,000,000. The reader must reject the frame
// without allocating for it and must close the socket.
func TestReadOversizedFrame(t *testing.T) {
	tr := New(testConfig())
	c1, c2 := net.Pipe()
	defer c1.Close()

	go func() {
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, 200_000_000)
		c1.Write(header)
	}()

	_, err := tr.Read(c2)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}

	// the reader closed its end, so the peer's next write must fail
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := c1.Write([]byte{0x00}); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket still writable after oversized frame")
		}
	}
}

// TestReadOversizedFrameHighBit declares a length above 2^31. The guard
// must reject it on every platform, including ones where a naive int
// conversion would wrap negative.
func TestReadOversizedFrameHighBit(t *testing.T) {
	tr := New(testConfig())

	_, err := tr.Read(&scriptedConn{script: []readStep{
		{data: []byte{0xC0, 0x00, 0x00, 0x00}}, // 3,221,225,472 bytes
	}})
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestWriteOversizedMessage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 64
	tr := New(cfg)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	big := common.NewMessage("QUERY", map[string]any{
		"blob": string(make([]byte, 256)),
	})
	err := tr.Write(c1, big)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}

	// the local guard rejects before touching the socket, so the connection
	// stays usable
	ping := common.NewMessage("PING", nil)
	writeErr := make(chan error, 1)
	go func() { writeErr <- tr.Write(c1, ping) }()
	if _, err := tr.Read(c2); err != nil {
		t.Fatalf("connection unusable after local size rejection: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("write after local size rejection failed: %v", err)
	}
}

func TestReadHeaderTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HeaderTimeout = 50 * time.Millisecond
	tr := New(cfg)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	start := time.Now()
	_, err := tr.Read(c2)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestReadBodyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.BodyTimeout = 50 * time.Millisecond
	tr := New(cfg)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		// header promises 100 bytes, then the sender stalls
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, 100)
		c1.Write(header)
	}()

	_, err := tr.Read(c2)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWriteTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.WriteTimeout = 50 * time.Millisecond
	tr := New(cfg)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	// nobody reads from c2, so the pipe write must hit the deadline
	err := tr.Write(c1, common.NewMessage("PING", nil))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

// TestReadMalformedPayloadKeepsConnection sends a frame whose body is not a
// valid envelope. The decode failure must be surfaced without invalidating
// the connection: the next well-formed frame still goes through.
func TestReadMalformedPayloadKeepsConnection(t *testing.T) {
	tr := New(testConfig())
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	bodies := [][]byte{
		[]byte(`this is not json`),
		[]byte(`{"data": {}}`),         // missing msg_type
		{0xff, 0xfe, 0x22, 0x7b, 0x7d}, // invalid UTF-8
	}

	for i, body := range bodies {
		go func(b []byte) { c1.Write(rawFrame(b)) }(body)

		_, err := tr.Read(c2)
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("body %d: expected ErrMalformedPayload, got %v", i, err)
		}

		// the stream is still framed correctly, a valid message must follow
		ping := common.NewMessage("PING", nil)
		writeErr := make(chan error, 1)
		go func() { writeErr <- tr.Write(c1, ping) }()

		got, err := tr.Read(c2)
		if err != nil {
			t.Fatalf("body %d: connection unusable after malformed frame: %v", i, err)
		}
		if got.MsgType != "PING" {
			t.Fatalf("body %d: unexpected follow-up message: %+v", i, got)
		}
		if err := <-writeErr; err != nil {
			t.Fatalf("body %d: follow-up write failed: %v", i, err)
		}
	}
}

// TestDeadlineRestore verifies that the phase-scoped read deadline is put
// back after a completed Read. With an ambient timeout configured, a raw
// read on the same socket must expire after roughly that ambient duration,
// not after a leftover phase deadline.
func TestDeadlineRestore(t *testing.T) {
	cfg := testConfig()
	cfg.AmbientTimeout = 100 * time.Millisecond
	tr := New(cfg)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	ping := common.NewMessage("PING", nil)
	writeErr := make(chan error, 1)
	go func() { writeErr <- tr.Write(c1, ping) }()
	if _, err := tr.Read(c2); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("write failed: %v", err)
	}

	buf := make([]byte, 1)
	_, err := c2.Read(buf)
	var nerr net.Error
	if !errors.As(err, &nerr) || !nerr.Timeout() {
		t.Fatalf("expected ambient deadline to apply after read, got %v", err)
	}
}

func TestBodyTimeoutScaling(t *testing.T) {
	cfg := testConfig()
	cfg.BodyTimeout = 15 * time.Second
	cfg.BodyTimeoutPerMB = 2 * time.Second
	tr := New(cfg)

	cases := []struct {
		msgLen int
		want   time.Duration
	}{
		{0, 15 * time.Second},
		{999_999, 15 * time.Second},
		{1_000_000, 17 * time.Second},
		{5_500_000, 25 * time.Second},
	}
	for _, c := range cases {
		if got := tr.bodyTimeout(c.msgLen); got != c.want {
			t.Errorf("bodyTimeout(%d) = %v, want %v", c.msgLen, got, c.want)
		}
	}
}
