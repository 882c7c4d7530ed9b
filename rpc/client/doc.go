// Package client implements the statq client side of the message protocol.
//
// A Client owns one TCP connection and runs two goroutines around it: a
// sender draining an ordered outbound queue (the connection's single
// writer) and a receiver routing inbound frames either to the caller
// waiting on the matching request or, for unsolicited server pushes, to
// the Notices channel.
//
// Request/response matching uses the request_id payload key where the
// vocabulary defines one (query, metadata) and falls back to the message
// type for the authentication operations, which are serialized by nature.
//
// Thread Safety:
//
//	All exported methods may be called concurrently from multiple
//	goroutines.
package client
