// Package codec converts large binary application payloads into text-safe
// representations embeddable in a Message's payload map, and back.
//
// The frame body travels as a single UTF-8 text blob, so binary data is
// base64-transcoded before embedding. Two independent lossless round-trip
// pairs are provided:
//
//   - EncodeTable / DecodeTable: tabular query results, serialized to a
//     compact binary form (gob) and then base64.
//
//   - EncodeFigure / DecodeFigure: rendered charts, rasterized to PNG in
//     memory and then base64. Decoding yields a displayable image.Image.
//
// The codec defines only the transforms, not the payload keys under which
// the encoded strings are stored.
package codec
