package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport configuration struct
// --------------------------------------------------------------------------

// TransportConfig bounds the frame protocol's memory use and wait times.
// The zero value is not usable, call DefaultTransportConfig instead.
type TransportConfig struct {
	// MaxMessageSize is the largest frame body (in bytes) the reader will
	// accept. A peer declaring a longer frame is treated as misbehaving and
	// its connection is closed.
	MaxMessageSize int

	// HeaderTimeout bounds how long the reader waits for the next frame to
	// begin. It is applied only while the 4 header bytes are read.
	HeaderTimeout time.Duration

	// BodyTimeout is the floor for reading a frame body. BodyTimeoutPerMB is
	// added per megabyte of declared body length, so large frames get
	// proportionally more time while small ones still fail fast.
	BodyTimeout      time.Duration
	BodyTimeoutPerMB time.Duration

	// WriteTimeout bounds a single frame write. 0 disables the deadline.
	WriteTimeout time.Duration

	// AmbientTimeout is the read deadline restored after every scoped
	// override. 0 means no ambient deadline.
	AmbientTimeout time.Duration
}

// DefaultTransportConfig returns the limits used by both peers unless
// overridden: 10 MB frames, 10s header wait, 15s body floor plus 2s per MB.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxMessageSize:   10 * 1000 * 1000,
		HeaderTimeout:    10 * time.Second,
		BodyTimeout:      15 * time.Second,
		BodyTimeoutPerMB: 2 * time.Second,
		WriteTimeout:     30 * time.Second,
		AmbientTimeout:   0,
	}
}

// --------------------------------------------------------------------------
// Socket tuning
// --------------------------------------------------------------------------

// SocketConf holds TCP socket options applied to accepted and dialed
// connections.
type SocketConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
	ReadBufferSize  int
	WriteBufferSize int
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the statq server.
type ServerConfig struct {
	// The address on which the server accepts client connections
	Endpoint string

	// MetricsEndpoint is the address for the Prometheus metrics listener.
	// Empty disables metrics exposition.
	MetricsEndpoint string

	// DatasetPath is the CSV file served to query clients
	DatasetPath string

	// RegistryPath is the SQLite database holding clients, sessions and the
	// query log. ":memory:" keeps it ephemeral.
	RegistryPath string

	// Logging configuration
	LogLevel string

	Transport TransportConfig
	Socket    SocketConf
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Endpoint)
	addField("Metrics Endpoint", c.MetricsEndpoint)
	addField("Dataset", c.DatasetPath)
	addField("Registry", c.RegistryPath)

	addSection("Protocol")
	addField("Max Message Size", strconv.Itoa(c.Transport.MaxMessageSize))
	addField("Header Timeout", c.Transport.HeaderTimeout.String())
	addField("Body Timeout", fmt.Sprintf("%s + %s/MB", c.Transport.BodyTimeout, c.Transport.BodyTimeoutPerMB))
	addField("Write Timeout", c.Transport.WriteTimeout.String())

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters for the statq client.
type ClientConfig struct {
	// The address of the statq server
	Endpoint string

	// RequestTimeout bounds a single request/response round trip
	RequestTimeout time.Duration

	// Logging configuration
	LogLevel string

	Transport TransportConfig
	Socket    SocketConf
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Request Timeout", c.RequestTimeout.String())
	addField("Max Message Size", strconv.Itoa(c.Transport.MaxMessageSize))

	return sb.String()
}
