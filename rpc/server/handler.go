package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/VictoriaMetrics/metrics"

	"github.com/statq/statq/lib/registry"
	"github.com/statq/statq/rpc/codec"
	"github.com/statq/statq/rpc/common"
	"github.com/statq/statq/rpc/transport"
)

// clientHandler owns one client connection: a read loop dispatching inbound
// messages and a dedicated sender goroutine draining the outbound queue, so
// concurrent producers (handlers, broadcasts) never write to the socket
// directly.
type clientHandler struct {
	conn net.Conn
	srv  *Server
	out  chan *common.Message

	done      chan struct{}
	closeOnce sync.Once

	// Login state. Written by login/logout on the read loop, read by close
	// which can run from the sender goroutine or the server, so access goes
	// through the mu-guarded accessors.
	mu        sync.Mutex
	client    *registry.Client
	sessionID string
}

func newClientHandler(conn net.Conn, srv *Server) *clientHandler {
	return &clientHandler{
		conn: conn,
		srv:  srv,
		out:  make(chan *common.Message, 64),
		done: make(chan struct{}),
	}
}

// enqueue hands a message to the sender goroutine, preserving order across
// producers.
func (h *clientHandler) enqueue(msg *common.Message) {
	select {
	case h.out <- msg:
	case <-h.done:
	}
}

// setSession records a login, clearSession a logout. session returns both
// fields consistently.
func (h *clientHandler) setSession(client *registry.Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = client
	h.sessionID = sessionID
}

func (h *clientHandler) clearSession() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessionID := h.sessionID
	h.client = nil
	h.sessionID = ""
	return sessionID
}

func (h *clientHandler) session() (*registry.Client, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client, h.sessionID
}

// close tears the handler down exactly once.
func (h *clientHandler) close() {
	h.closeOnce.Do(func() {
		close(h.done)
		_ = h.conn.Close()
		h.srv.clients.Delete(h.conn.RemoteAddr().String())
		if sessionID := h.clearSession(); sessionID != "" {
			if err := h.srv.registry.EndSession(sessionID); err != nil {
				logger.Warn().Err(err).Msg("failed to end session")
			}
		}
	})
}

// run is the handler's main loop. It exits when the peer disconnects, the
// connection becomes unusable or the server shuts down.
func (h *clientHandler) run() {
	addr := h.conn.RemoteAddr().String()
	logger.Info().Str("client", addr).Msg("client connected")
	defer h.close()

	go h.sender()
	h.enqueue(common.NewServerMessage("Connection accepted."))

	for {
		msg, err := h.srv.tr.Read(h.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Str("client", addr).Msg("client disconnected")
				return
			}

			metrics.GetOrCreateCounter(fmt.Sprintf(`statq_read_errors_total{kind=%q}`, readErrKind(err))).Inc()

			switch {
			case errors.Is(err, transport.ErrTimeout):
				// idle client, keep polling unless we are shutting down
				select {
				case <-h.done:
					return
				default:
					continue
				}
			case errors.Is(err, transport.ErrMalformedPayload):
				// frame was fully received, the connection survives
				logger.Warn().Str("client", addr).Err(err).Msg("malformed message")
				h.enqueue(common.NewErrorResponse("malformed message", ""))
				continue
			default:
				// ErrConnectionLost, ErrMessageTooLarge or an unknown
				// failure, the connection is done
				logger.Warn().Str("client", addr).Err(err).Msg("closing connection")
				return
			}
		}

		metrics.GetOrCreateCounter("statq_messages_in_total").Inc()
		h.dispatch(msg)
	}
}

// sender serializes all outbound writes onto the connection.
func (h *clientHandler) sender() {
	for {
		select {
		case msg := <-h.out:
			if err := h.srv.tr.Write(h.conn, msg); err != nil {
				logger.Warn().Err(err).Msg("failed to write response")
				h.close()
				return
			}
			metrics.GetOrCreateCounter("statq_messages_out_total").Inc()
		case <-h.done:
			return
		}
	}
}

// --------------------------------------------------------------------------
// Message dispatch
// --------------------------------------------------------------------------

func (h *clientHandler) dispatch(msg *common.Message) {
	switch msg.MsgType {
	case common.MsgTRegister:
		h.handleRegister(msg)
	case common.MsgTLogin:
		h.handleLogin(msg)
	case common.MsgTLogout:
		h.handleLogout()
	case common.MsgTQuery:
		h.handleQuery(msg)
	case common.MsgTGetMetadata:
		h.handleMetadata(msg)
	default:
		h.enqueue(common.NewErrorResponse(
			fmt.Sprintf("unsupported message type %q", msg.MsgType), msg.GetString("request_id")))
	}
}

func (h *clientHandler) handleRegister(msg *common.Message) {
	email := msg.GetString("email")
	password := msg.GetString("password")
	if email == "" || password == "" {
		h.enqueue(common.NewStatusResponse(common.MsgTRegister, errors.New("email and password are required")))
		return
	}

	_, err := h.srv.registry.RegisterClient(
		msg.GetString("name"), msg.GetString("nickname"), email, password)
	if err != nil {
		logger.Warn().Str("email", email).Err(err).Msg("registration failed")
	}
	h.enqueue(common.NewStatusResponse(common.MsgTRegister, err))
}

func (h *clientHandler) handleLogin(msg *common.Message) {
	client, err := h.srv.registry.Authenticate(msg.GetString("email"), msg.GetString("password"))
	if err != nil {
		h.enqueue(common.NewStatusResponse(common.MsgTLogin, err))
		return
	}

	sessionID, err := h.srv.registry.StartSession(client.ID, h.conn.RemoteAddr().String())
	if err != nil {
		h.enqueue(common.NewStatusResponse(common.MsgTLogin, err))
		return
	}

	h.setSession(client, sessionID)
	logger.Info().Str("nickname", client.Nickname).Msg("client logged in")

	h.enqueue(common.NewMessage(common.MsgTLogin, map[string]any{
		"status":     common.StatusOK,
		"nickname":   client.Nickname,
		"session_id": sessionID,
	}))
}

func (h *clientHandler) handleLogout() {
	if sessionID := h.clearSession(); sessionID != "" {
		if err := h.srv.registry.EndSession(sessionID); err != nil {
			logger.Warn().Err(err).Msg("failed to end session")
		}
	}
	h.enqueue(common.NewStatusResponse(common.MsgTLogout, nil))
}

func (h *clientHandler) handleQuery(msg *common.Message) {
	requestID := msg.GetString("request_id")
	client, sessionID := h.session()
	if client == nil {
		h.enqueue(common.NewErrorResponse("login required", requestID))
		return
	}

	queryType := msg.GetString("query_type")
	parameters := msg.GetMap("parameters")

	table, err := h.srv.processor.Process(queryType, parameters)
	if err != nil {
		h.enqueue(common.NewErrorResponse(err.Error(), requestID))
		return
	}

	encoded, err := codec.EncodeTable(table)
	if err != nil {
		h.enqueue(common.NewErrorResponse(err.Error(), requestID))
		return
	}

	// A chart that fails to render degrades to a table-only response.
	var figure string
	if msg.GetBool("include_chart") {
		figure = h.renderChart(queryType, table)
	}

	if err := h.srv.registry.LogQuery(client.ID, sessionID, queryType, parameters); err != nil {
		logger.Warn().Err(err).Msg("failed to log query")
	}

	h.enqueue(common.NewQueryResult(requestID, queryType, encoded, figure))
}

func (h *clientHandler) renderChart(queryType string, table *codec.Table) string {
	title := queryType
	if desc, ok := h.srv.processor.Metadata()["queries"].(map[string]string); ok {
		if d := desc[queryType]; d != "" {
			title = d
		}
	}

	bar, err := codec.NewBarChart(title, table)
	if err != nil {
		logger.Warn().Str("query", queryType).Err(err).Msg("cannot build chart")
		return ""
	}
	figure, err := codec.EncodeFigure(bar)
	if err != nil {
		logger.Warn().Str("query", queryType).Err(err).Msg("cannot render chart")
		return ""
	}
	return figure
}

func (h *clientHandler) handleMetadata(msg *common.Message) {
	// metadata describes the dataset, which only authenticated clients see
	if client, _ := h.session(); client == nil {
		h.enqueue(common.NewErrorResponse("login required", msg.GetString("request_id")))
		return
	}

	h.enqueue(common.NewMessage(common.MsgTMetadata, map[string]any{
		"request_id": msg.GetString("request_id"),
		"status":     common.StatusOK,
		"metadata":   h.srv.processor.Metadata(),
	}))
}
