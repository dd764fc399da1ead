package dispatch

import "sync/atomic"

// Stats holds the process-wide dispatch counters. Per-backend counters live
// on the backends themselves.
type Stats struct {
	queries            atomic.Uint64
	responses          atomic.Uint64
	selfAnswered       atomic.Uint64
	cacheHits          atomic.Uint64
	cacheMisses        atomic.Uint64
	noPolicy           atomic.Uint64
	sendErrors         atomic.Uint64
	reuseds            atomic.Uint64
	downstreamTimeouts atomic.Uint64
	malformed          atomic.Uint64
	ecsFailures        atomic.Uint64
	ruleDrop           atomic.Uint64
	responseRuleDrop   atomic.Uint64
	unmatched          atomic.Uint64
	lateResponses      atomic.Uint64
	replyErrors        atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats. Outstanding is summed over
// all backends when the snapshot is taken.
type StatsSnapshot struct {
	Queries            uint64 `json:"queries"`
	Responses          uint64 `json:"responses"`
	SelfAnswered       uint64 `json:"self_answered"`
	CacheHits          uint64 `json:"cache_hits"`
	CacheMisses        uint64 `json:"cache_misses"`
	NoPolicy           uint64 `json:"no_policy"`
	SendErrors         uint64 `json:"send_errors"`
	Reuseds            uint64 `json:"reuseds"`
	DownstreamTimeouts uint64 `json:"downstream_timeouts"`
	Malformed          uint64 `json:"malformed"`
	ECSFailures        uint64 `json:"ecs_failures"`
	RuleDrop           uint64 `json:"rule_drop"`
	ResponseRuleDrop   uint64 `json:"response_rule_drop"`
	Unmatched          uint64 `json:"unmatched"`
	LateResponses      uint64 `json:"late_responses"`
	ReplyErrors        uint64 `json:"reply_errors"`
	Outstanding        int64  `json:"outstanding"`
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:            s.queries.Load(),
		Responses:          s.responses.Load(),
		SelfAnswered:       s.selfAnswered.Load(),
		CacheHits:          s.cacheHits.Load(),
		CacheMisses:        s.cacheMisses.Load(),
		NoPolicy:           s.noPolicy.Load(),
		SendErrors:         s.sendErrors.Load(),
		Reuseds:            s.reuseds.Load(),
		DownstreamTimeouts: s.downstreamTimeouts.Load(),
		Malformed:          s.malformed.Load(),
		ECSFailures:        s.ecsFailures.Load(),
		RuleDrop:           s.ruleDrop.Load(),
		ResponseRuleDrop:   s.responseRuleDrop.Load(),
		Unmatched:          s.unmatched.Load(),
		LateResponses:      s.lateResponses.Load(),
		ReplyErrors:        s.replyErrors.Load(),
	}
}
