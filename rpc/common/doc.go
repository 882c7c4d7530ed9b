// Package common contains the shared building blocks of the statq RPC layer:
// the Message envelope exchanged between client and server, the configuration
// structs for both processes, and the logging setup.
//
// Key Components:
//
//   - Message: the envelope (msg_type + data payload map) that every wire
//     frame carries. Factory functions build the application vocabulary
//     (register, login, query, ...) with consistent payload keys.
//
//   - TransportConfig: size and timeout limits enforced by the frame
//     protocol in the transport package.
//
//   - ServerConfig / ClientConfig: process-level configuration populated by
//     the cmd package from flags and environment variables.
package common
