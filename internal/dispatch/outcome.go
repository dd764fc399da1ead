package dispatch

import (
	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/rules"
)

// OutcomeKind says where a packet went.
type OutcomeKind int

const (
	Dropped            OutcomeKind = iota // nothing was sent
	ForwardedToClient                     // an answer went back to the client
	ForwardedToBackend                    // the query went to a backend
)

// String returns a label for logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case ForwardedToClient:
		return "client"
	case ForwardedToBackend:
		return "backend"
	default:
		return "dropped"
	}
}

// Outcome is the result of one Dispatch or HandleResponse call.
type Outcome struct {
	Kind OutcomeKind
	// Reason is nil on the normal path. A Dropped outcome always carries
	// one; a forwarded outcome may carry ErrSendFailed, ErrReplyFailed or,
	// for a SERVFAIL answered in place, ErrNoBackendAvailable.
	Reason error
	// Answer is set for ForwardedToClient outcomes.
	Answer rules.ResponseKind

	Backend *backend.Backend
	Slot    uint16
}

func dropped(reason error) Outcome {
	return Outcome{Kind: Dropped, Reason: reason}
}
