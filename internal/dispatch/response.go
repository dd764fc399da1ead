package dispatch

import (
	"fmt"
	"time"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/dns"
	"github.com/jroosing/hydralb/internal/query"
	"github.com/jroosing/hydralb/internal/rules"
)

// HandleResponse routes an answer received from backend b, held in buf[:n],
// to the client that asked. buf is modified in place.
func (e *Engine) HandleResponse(b *backend.Backend, buf []byte, n int) (out Outcome) {
	e.init()
	defer func() {
		if r := recover(); r != nil {
			e.stats.malformed.Add(1)
			e.Logger.Error("response panic", "backend", b.Name, "panic", r)
			out = dropped(ErrMalformedPacket)
		}
	}()

	v, err := dns.NewView(buf, n)
	if err == nil && !v.IsResponse() {
		err = fmt.Errorf("%w: QR not set", dns.ErrMalformedPacket)
	}
	var (
		q    dns.Question
		qEnd int
	)
	if err == nil {
		q, qEnd, err = v.Question()
	}
	if err != nil {
		e.stats.malformed.Add(1)
		e.Logger.Debug("malformed response", "backend", b.Name, "err", err)
		return dropped(fmt.Errorf("%w: %w", ErrMalformedPacket, err))
	}

	id := v.ID()
	s, state := b.MatchIf(id, func(s *backend.Slot) bool {
		return s.Name == q.Name && s.Type == q.Type && s.Class == q.Class
	})
	switch state {
	case backend.MatchExpired:
		// The timeout itself was counted when the slot expired.
		e.stats.lateResponses.Add(1)
		e.Logger.Debug("late response", "backend", b.Name, "id", int(id), "qname", q.Name)
		return dropped(ErrDownstreamTimeout)
	case backend.MatchNone, backend.MatchRejected:
		e.stats.unmatched.Add(1)
		e.Logger.Debug("unmatched response", "backend", b.Name, "id", int(id), "qname", q.Name)
		return dropped(ErrUnmatchedResponse)
	}

	switch {
	case s.EDNSAdded:
		err = dns.RemoveOPT(v, qEnd)
	case s.ECSAdded:
		err = dns.RemoveECS(v, qEnd)
	}
	if err != nil {
		e.stats.malformed.Add(1)
		e.Logger.Warn("cannot strip ecs from response", "backend", b.Name, "qname", q.Name, "err", err)
		return dropped(fmt.Errorf("%w: %w", ErrMalformedPacket, err))
	}

	if s.Cache != nil && !s.SkipCache && s.CacheKey != 0 {
		s.Cache.Insert(s.CacheKey, q, v.Bytes(), qEnd, s.TempFailureTTL)
	}

	b.RecordResponse(time.Since(s.SentAt))
	e.stats.responses.Add(1)

	out = e.finalize(rules.KindResponse, contextFromSlot(&s, v, qEnd), v)
	out.Backend = b
	out.Slot = id
	return out
}

// contextFromSlot rebuilds the query state saved at forwarding time so the
// response rules see the same context as the query rules did.
func contextFromSlot(s *backend.Slot, v *dns.View, qEnd int) *query.Context {
	return &query.Context{
		View:           v,
		Name:           s.Name,
		Type:           s.Type,
		Class:          s.Class,
		QEnd:           qEnd,
		ID:             s.OrigID,
		Flags:          s.OrigFlags,
		Client:         s.Client,
		Local:          s.Local,
		DestHarvested:  s.DestHarvested,
		Origin:         s.Origin,
		Received:       s.SentAt,
		Tags:           s.Tags,
		SkipCache:      s.SkipCache,
		TempFailureTTL: s.TempFailureTTL,
		PoolName:       s.Pool,
		Delay:          s.Delay,
	}
}

// finalize sends the answer in v to the client of qc. It restores the
// client's ID and RD/CD bits, runs the response rules and honours any delay
// a rule asked for. Every client-bound answer goes through here.
func (e *Engine) finalize(kind rules.ResponseKind, qc *query.Context, v *dns.View) Outcome {
	v.SetID(qc.ID)
	dns.RestoreClientFlags(v, qc.Flags)

	if e.ResponseRules.ApplyResponse(kind, qc, v) == rules.Drop {
		e.stats.responseRuleDrop.Add(1)
		return dropped(ErrDroppedByRule)
	}

	out := Outcome{Kind: ForwardedToClient, Answer: kind}
	if e.Tap != nil {
		e.Tap.ClientResponse(qc.Client, qc.Local, query.ProtocolOf(qc.Origin), qc.Received, time.Now(), v.Bytes())
	}
	if err := e.reply(qc, v.Bytes()); err != nil {
		e.stats.replyErrors.Add(1)
		e.Logger.Warn("reply to client failed", "client", qc.Client, "qname", qc.Name, "err", err)
		out.Reason = fmt.Errorf("%w: %w", ErrReplyFailed, err)
	}
	return out
}

func (e *Engine) reply(qc *query.Context, msg []byte) error {
	if qc.Origin == nil {
		return fmt.Errorf("no origin for client %s", qc.Client)
	}
	if qc.Delay <= 0 {
		return qc.Origin.Reply(msg, qc.Client)
	}

	// The buffer goes back to its owner when dispatch returns.
	delayed := append([]byte(nil), msg...)
	origin, client, logger := qc.Origin, qc.Client, e.Logger
	time.AfterFunc(qc.Delay, func() {
		if err := origin.Reply(delayed, client); err != nil {
			e.stats.replyErrors.Add(1)
			logger.Warn("delayed reply failed", "client", client, "err", err)
		}
	})
	return nil
}

// Tick ages the slot tables of every backend by one step and returns the
// number of queries that timed out. It is meant to run once a second.
func (e *Engine) Tick() int {
	e.init()
	total := 0
	for _, b := range e.Pools.Backends() {
		if n := b.Tick(); n > 0 {
			total += n
			e.Logger.Debug("downstream timeouts", "backend", b.Name, "count", n)
		}
	}
	e.stats.downstreamTimeouts.Add(uint64(total))
	return total
}
