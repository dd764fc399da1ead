package dispatch

import "errors"

// Reasons reported in Outcome.Reason. Nothing a dispatch call does returns
// an error to its caller; these only classify the outcome.
var (
	ErrMalformedPacket    = errors.New("malformed packet")
	ErrEcsInsertionFailed = errors.New("ecs insertion failed")
	ErrNoBackendAvailable = errors.New("no backend available")
	ErrSendFailed         = errors.New("send to backend failed")
	ErrDownstreamTimeout  = errors.New("downstream timeout")
	ErrDroppedByRule      = errors.New("dropped by rule")
	ErrUnmatchedResponse  = errors.New("response matches no outstanding query")
	ErrReplyFailed        = errors.New("reply to client failed")
)
