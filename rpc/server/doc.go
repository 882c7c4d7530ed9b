// Package server implements the statq server: a TCP accept loop and one
// handler per client connection.
//
// Each handler runs two goroutines around the shared connection: a read
// loop (the single reader) and a sender draining an ordered outbound queue
// (the single writer). This satisfies the transport's concurrency contract,
// one in-flight read and one in-flight write, while letting any number of
// internal producers (request handlers, broadcasts) emit messages.
//
// The read loop maps transport errors onto recovery actions: a timeout
// keeps polling, a malformed payload answers with an error message and
// keeps the connection, everything else tears the connection down.
//
// Key Components:
//
//   - Server: listener setup, socket tuning, client registry, broadcast
//     fan-out and the optional Prometheus metrics endpoint.
//
//   - clientHandler: per-connection state machine dispatching the message
//     vocabulary (register, login, logout, query, get_metadata) against the
//     registry and the query processor.
package server
