package client

import (
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/statq/statq/rpc/codec"
	"github.com/statq/statq/rpc/common"
	"github.com/statq/statq/rpc/transport"
)

var logger = common.GetLogger("client")

// ErrClosed is returned for calls on a client whose connection is gone.
var ErrClosed = errors.New("client is closed")

// result carries one response to a waiting caller.
type result struct {
	msg *common.Message
	err error
}

// Client maintains one connection to a statq server. Requests may be issued
// from any goroutine: a dedicated sender serializes outbound frames and a
// receiver goroutine routes responses back to the issuing caller.
type Client struct {
	config common.ClientConfig
	tr     *transport.Transport
	conn   net.Conn

	out     chan *common.Message
	pending *xsync.MapOf[string, chan result]
	notices chan *common.Message

	sessionID string
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an unconnected client.
func New(config common.ClientConfig) *Client {
	return &Client{
		config:  config,
		tr:      transport.New(config.Transport),
		out:     make(chan *common.Message, 16),
		pending: xsync.NewMapOf[string, chan result](),
		notices: make(chan *common.Message, 16),
		done:    make(chan struct{}),
	}
}

// Connect dials the server and starts the sender and receiver goroutines.
func (c *Client) Connect() error {
	conn, err := net.Dial("tcp", c.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.config.Endpoint, err)
	}
	c.conn = conn
	c.tuneSocket()

	go c.sender()
	go c.receiver()

	logger.Info().Str("endpoint", c.config.Endpoint).Msg("connected")
	return nil
}

// Close tears down the connection and fails all waiting callers.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.failPending(ErrClosed)
	})
	return nil
}

// Notices delivers messages the server pushes without a preceding request.
// Slow consumers lose notices rather than blocking the receiver.
func (c *Client) Notices() <-chan *common.Message {
	return c.notices
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

// Register creates a new account on the server.
func (c *Client) Register(name, nickname, email, password string) error {
	resp, err := c.call(common.NewRegisterRequest(name, nickname, email, password), string(common.MsgTRegister))
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Login authenticates and starts a server-side session. It returns the
// account nickname reported by the server.
func (c *Client) Login(email, password string) (string, error) {
	resp, err := c.call(common.NewLoginRequest(email, password), string(common.MsgTLogin))
	if err != nil {
		return "", err
	}
	if err := statusErr(resp); err != nil {
		return "", err
	}
	c.sessionID = resp.GetString("session_id")
	return resp.GetString("nickname"), nil
}

// Logout ends the current session.
func (c *Client) Logout() error {
	resp, err := c.call(common.NewLogoutRequest(), string(common.MsgTLogout))
	if err != nil {
		return err
	}
	c.sessionID = ""
	return statusErr(resp)
}

// Query runs one dataset query. The returned image is nil unless
// includeChart was set and the server attached a rendered figure.
func (c *Client) Query(queryType string, parameters map[string]any, includeChart bool) (*codec.Table, image.Image, error) {
	requestID := uuid.NewString()
	resp, err := c.call(common.NewQueryRequest(requestID, queryType, parameters, includeChart), requestID)
	if err != nil {
		return nil, nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, nil, err
	}

	table, err := codec.DecodeTable(resp.GetString("table"))
	if err != nil {
		return nil, nil, err
	}

	var figure image.Image
	if encoded := resp.GetString("figure"); encoded != "" {
		figure, err = codec.DecodeFigure(encoded)
		if err != nil {
			return nil, nil, err
		}
	}
	return table, figure, nil
}

// Metadata fetches the dataset description.
func (c *Client) Metadata() (map[string]any, error) {
	requestID := uuid.NewString()
	resp, err := c.call(common.NewMetadataRequest(requestID), requestID)
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	return resp.GetMap("metadata"), nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// call sends one request and waits for the response registered under key.
// Responses carrying a request_id route by it, all others route by their
// message type.
func (c *Client) call(msg *common.Message, key string) (*common.Message, error) {
	if c.conn == nil {
		return nil, ErrClosed
	}

	respCh := make(chan result, 1)
	c.pending.Store(key, respCh)
	defer c.pending.Delete(key)

	select {
	case c.out <- msg:
	case <-c.done:
		return nil, ErrClosed
	}

	timeout := c.config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case res := <-respCh:
		return res.msg, res.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w: no response within %s", transport.ErrTimeout, timeout)
	case <-c.done:
		return nil, ErrClosed
	}
}

// sender serializes all outbound writes onto the connection.
func (c *Client) sender() {
	for {
		select {
		case msg := <-c.out:
			if err := c.tr.Write(c.conn, msg); err != nil {
				logger.Warn().Err(err).Msg("write failed")
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// receiver reads frames in a loop and routes them to waiting callers.
func (c *Client) receiver() {
	for {
		msg, err := c.tr.Read(c.conn)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				select {
				case <-c.done:
					return
				default:
					continue
				}
			case errors.Is(err, transport.ErrMalformedPayload):
				logger.Warn().Err(err).Msg("dropping malformed server frame")
				continue
			case errors.Is(err, io.EOF):
				logger.Info().Msg("connection closed by server")
				c.failPending(fmt.Errorf("%w: server closed the connection", transport.ErrConnectionLost))
				c.Close()
				return
			default:
				logger.Warn().Err(err).Msg("receive failed")
				c.failPending(err)
				c.Close()
				return
			}
		}

		c.route(msg)
	}
}

func (c *Client) route(msg *common.Message) {
	if msg.MsgType == common.MsgTServerMessage {
		select {
		case c.notices <- msg:
		default:
			logger.Debug().Msg("dropping server notice, consumer too slow")
		}
		return
	}

	key := msg.GetString("request_id")
	if key == "" {
		key = string(msg.MsgType)
	}
	if respCh, ok := c.pending.LoadAndDelete(key); ok {
		respCh <- result{msg: msg}
		return
	}
	logger.Warn().Str("msg_type", string(msg.MsgType)).Msg("response without a waiting request")
}

func (c *Client) failPending(err error) {
	c.pending.Range(func(key string, respCh chan result) bool {
		if _, ok := c.pending.LoadAndDelete(key); ok {
			respCh <- result{err: err}
		}
		return true
	})
}

// tuneSocket applies the configured TCP options to the dialed connection.
func (c *Client) tuneSocket() {
	tcpConn, ok := c.conn.(*net.TCPConn)
	if !ok {
		return
	}
	sc := c.config.Socket
	_ = tcpConn.SetNoDelay(sc.TCPNoDelay)
	if sc.ReadBufferSize > 0 {
		_ = tcpConn.SetReadBuffer(sc.ReadBufferSize)
	}
	if sc.WriteBufferSize > 0 {
		_ = tcpConn.SetWriteBuffer(sc.WriteBufferSize)
	}
}

// statusErr converts an ERROR status payload into a Go error.
func statusErr(msg *common.Message) error {
	if msg.GetString("status") == common.StatusError || msg.MsgType == common.MsgTError {
		errText := msg.GetString("error")
		if errText == "" {
			errText = "server reported an error"
		}
		return errors.New(errText)
	}
	return nil
}
