package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/statq/statq/lib/dataset"
	"github.com/statq/statq/lib/registry"
	"github.com/statq/statq/rpc/common"
	"github.com/statq/statq/rpc/transport"
)

var logger = common.GetLogger("server")

// Server accepts client connections and serves the statq message protocol
// over them.
type Server struct {
	config    common.ServerConfig
	tr        *transport.Transport
	registry  *registry.Registry
	processor *dataset.Processor

	// connected handlers keyed by remote address
	clients *xsync.MapOf[string, *clientHandler]

	listener  net.Listener
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a server over the given registry and query processor.
func New(config common.ServerConfig, reg *registry.Registry, proc *dataset.Processor) *Server {
	logger.Info().Msg("created statq server")
	logger.Info().Msg(config.String())

	return &Server{
		config:    config,
		tr:        transport.New(config.Transport),
		registry:  reg,
		processor: proc,
		clients:   xsync.NewMapOf[string, *clientHandler](),
		done:      make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections in the
// background. Use Addr to learn the bound address when the configured
// endpoint uses port 0.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create TCP socket: %w", err)
	}
	s.listener = listener

	if s.config.MetricsEndpoint != "" {
		go s.serveMetrics()
	}

	logger.Info().Str("endpoint", listener.Addr().String()).Msg("server listening")
	go s.acceptLoop()
	return nil
}

// Serve starts the server and blocks until Close is called.
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.done
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections and tears down all client handlers.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.clients.Range(func(_ string, h *clientHandler) bool {
			h.close()
			return true
		})
	})
	return nil
}

// Broadcast pushes a server message to every connected client.
func (s *Server) Broadcast(text string) {
	msg := common.NewServerMessage(text)
	s.clients.Range(func(_ string, h *clientHandler) bool {
		h.enqueue(msg)
		return true
	})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			logger.Error().Err(err).Msg("accept error")
			continue
		}

		if err := s.upgradeConnection(conn); err != nil {
			logger.Warn().Err(err).Msg("failed to tune connection")
		}

		metrics.GetOrCreateCounter("statq_connections_total").Inc()

		h := newClientHandler(conn, s)
		s.clients.Store(conn.RemoteAddr().String(), h)
		go h.run()
	}
}

// upgradeConnection applies the configured TCP socket options to an
// accepted connection.
func (s *Server) upgradeConnection(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	sc := s.config.Socket
	if err := tcpConn.SetNoDelay(sc.TCPNoDelay); err != nil {
		return err
	}
	if sc.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(sc.WriteBufferSize); err != nil {
			return err
		}
	}
	if sc.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(sc.ReadBufferSize); err != nil {
			return err
		}
	}
	if sc.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(sc.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}
	if sc.TCPLingerSec > 0 {
		if err := tcpConn.SetLinger(sc.TCPLingerSec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) serveMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	logger.Info().Str("endpoint", s.config.MetricsEndpoint).Msg("metrics listening")
	if err := http.ListenAndServe(s.config.MetricsEndpoint, mux); err != nil {
		logger.Error().Err(err).Msg("metrics listener failed")
	}
}

// readErrKind labels a transport error for the per-kind failure counter.
func readErrKind(err error) string {
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, transport.ErrMessageTooLarge):
		return "too_large"
	case errors.Is(err, transport.ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, transport.ErrConnectionLost):
		return "connection_lost"
	default:
		return "other"
	}
}
