// Package transport implements the statq wire protocol: turning a Message
// into a self-delimiting byte frame on a TCP connection and reconstructing
// it on the other end despite partial reads, slow peers, oversized input and
// abrupt disconnects.
//
// Wire format:
//
//	0        4
//	┌────────┬─────────────────────┐
//	│ length │ UTF-8 JSON body ... │
//	│ uint32 │    length bytes     │
//	└────────┴─────────────────────┘
//
// The length prefix is unsigned big-endian and counts body bytes only. The
// body is the serialized Message envelope.
//
// Key Components:
//
//   - Transport: the codec. Write emits one complete frame or fails with a
//     typed error; Read runs the header/length/body/decode state machine
//     with scoped deadlines and a hard size cap.
//
//   - Error taxonomy (errors.go): ErrTimeout, ErrConnectionLost,
//     ErrMessageTooLarge, ErrMalformedPayload, plus io.EOF for a clean close
//     between frames. Each demands a different recovery action from the
//     caller, see the individual error docs.
//
// Thread Safety:
//
//	One Read and one Write may run concurrently on the same connection.
//	Multiple concurrent readers or writers on one connection require
//	external serialization, typically a dedicated sender goroutine fed by
//	an ordered queue (see the client and server packages).
package transport
