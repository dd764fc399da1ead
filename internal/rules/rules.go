// Package rules implements the query and response rule pipelines that run
// before backend selection and before a reply reaches the client.
package rules

import (
	"github.com/jroosing/hydralb/internal/dns"
	"github.com/jroosing/hydralb/internal/query"
)

// Verdict is the outcome of running the query rules.
type Verdict int

const (
	// Continue lets the query proceed to pool and backend selection.
	Continue Verdict = iota
	// Drop discards the query without a reply.
	Drop
	// Truncate means the query was turned into a TC=1 response.
	Truncate
	// SelfAnswer means a rule turned the query into a response.
	SelfAnswer
	// SendAsIs forwards the query without consulting the cache.
	SendAsIs
)

// String returns a short name for logging.
func (v Verdict) String() string {
	switch v {
	case Continue:
		return "continue"
	case Drop:
		return "drop"
	case Truncate:
		return "truncate"
	case SelfAnswer:
		return "self-answer"
	case SendAsIs:
		return "send-as-is"
	default:
		return "unknown"
	}
}

// ResponseKind says where a client-bound answer came from.
type ResponseKind int

const (
	KindResponse     ResponseKind = iota // answer from a backend
	KindSelfAnswered                     // built by a query rule or the engine
	KindCacheHit                         // served from a pool cache
)

// String returns the configuration name of the kind.
func (k ResponseKind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindSelfAnswered:
		return "self-answered"
	case KindCacheHit:
		return "cache-hit"
	default:
		return "unknown"
	}
}

// QueryRules inspect and may rewrite an inbound query. Rules may change the
// packet through qc.View and adjust the routing fields of qc.
type QueryRules interface {
	Apply(qc *query.Context) Verdict
}

// ResponseRules run on every answer just before it is sent to the client.
// Only Continue and Drop are meaningful verdicts.
type ResponseRules interface {
	ApplyResponse(kind ResponseKind, qc *query.Context, resp *dns.View) Verdict
}

// None is a rule set that lets everything through.
type None struct{}

func (None) Apply(*query.Context) Verdict                                  { return Continue }
func (None) ApplyResponse(ResponseKind, *query.Context, *dns.View) Verdict { return Continue }
