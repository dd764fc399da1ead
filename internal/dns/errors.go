// Package dns provides the DNS wire-format pieces the load balancer needs:
// a mutable view over a single message buffer, name and question decoding,
// EDNS(0) OPT and Client Subnet manipulation, and in-place response shaping.
//
// Standards Compliance:
//
//   - RFC 1035: Domain Names - Implementation and Specification (core DNS protocol)
//   - RFC 2308: Negative Caching of DNS Queries (NXDOMAIN, NODATA TTLs)
//   - RFC 6891: Extension Mechanisms for DNS (EDNS, OPT records)
//   - RFC 7871: Client Subnet in DNS Queries (ECS option)
//
// The package never builds a full object model of a message. Every operation
// reads or rewrites the caller's buffer in place, which keeps the dispatch
// path free of per-query allocations.
//
// Error Handling:
//
// All errors are wrapped with context using fmt.Errorf("...: %w", err).
// Callers match on the sentinels below with errors.Is.
package dns

import "errors"

var (
	// ErrDNSError is a sentinel error type for DNS protocol violations.
	// Wrap this with fmt.Errorf("context: %w", ErrDNSError) to add context.
	ErrDNSError = errors.New("dns wire error")

	// ErrMalformedPacket is returned when a buffer is shorter than a DNS
	// header or its question cannot be decoded inside the occupied length.
	ErrMalformedPacket = errors.New("malformed dns packet")

	// ErrNoCapacity is returned when a tail insertion would grow the message
	// past the capacity of the underlying buffer.
	ErrNoCapacity = errors.New("insufficient buffer capacity")
)
