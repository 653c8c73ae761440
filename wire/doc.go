// Package wire implements the framing codec shared by every on-the-wire
// structure in the courier protocol.
//
// Two primitives cover everything:
//
//   - size-and-buffer: a 4-byte little-endian length followed by exactly
//     that many bytes, bounded by a caller-supplied ceiling so a hostile
//     length prefix can never drive allocation.
//   - record: a canonical, deterministic serialization of typed records
//     (endpoints, payload references, payloads). Records are CBOR in
//     core-deterministic mode with integer field keys, so every peer
//     produces identical bytes for identical values.
//
// All inputs to this package are attacker-controlled. Every decode
// failure is reported as (or wrapped around) ErrMalformed.
package wire
