// Package query holds the per-query state carried through one dispatch call.
package query

import (
	"maps"
	"net/netip"
	"time"

	"github.com/jroosing/hydralb/internal/dns"
)

// Origin is the frontend handle a reply travels back through. A UDP frontend
// writes to its socket, a DoH frontend completes the waiting HTTP request.
type Origin interface {
	Reply(b []byte, client netip.AddrPort) error
}

// Protocol is the client-facing transport a query arrived on.
type Protocol uint8

const (
	ProtoUDP Protocol = iota
	ProtoDoH
)

func (p Protocol) String() string {
	if p == ProtoDoH {
		return "doh"
	}
	return "udp"
}

// ProtocolOf returns the protocol of the frontend behind o. Origins that do
// not implement Protocol() are UDP.
func ProtocolOf(o Origin) Protocol {
	if p, ok := o.(interface{ Protocol() Protocol }); ok {
		return p.Protocol()
	}
	return ProtoUDP
}

// Context is the state of one inbound query. It borrows the packet buffer
// from the frontend and is discarded when dispatch returns.
type Context struct {
	View *dns.View

	Name  string // lowercased, no trailing dot
	Type  uint16
	Class uint16
	QEnd  int // offset just past the question

	ID    uint16 // ID as received from the client
	Flags uint16 // header flags as received from the client

	Client        netip.AddrPort
	Local         netip.AddrPort
	DestHarvested bool // Local is the real destination, not only the listening address
	Origin        Origin

	Received time.Time // carries a monotonic reading for latency accounting
	Tags     map[string]string

	UseECS         bool
	ECSOverride    bool
	ECSPrefixV4    int
	ECSPrefixV6    int
	SkipCache      bool
	TempFailureTTL time.Duration // TTL for cached SERVFAIL answers; zero leaves the cache default
	PoolName       string
	Delay          time.Duration // artificial latency before replying
}

// New builds a Context for the query held by v. The question must already
// have been decoded; q and qEnd come from v.Question.
func New(v *dns.View, q dns.Question, qEnd int, client, local netip.AddrPort, origin Origin) *Context {
	return &Context{
		View:        v,
		Name:        q.Name,
		Type:        q.Type,
		Class:       q.Class,
		QEnd:        qEnd,
		ID:          v.ID(),
		Flags:       v.Flags(),
		Client:      client,
		Local:       local,
		Origin:      origin,
		Received:    time.Now(),
		UseECS:      true,
		ECSPrefixV4: dns.DefaultECSPrefixV4,
		ECSPrefixV6: dns.DefaultECSPrefixV6,
	}
}

// SetTag records a cross-cutting key/value for later rule stages.
func (c *Context) SetTag(key, value string) {
	if c.Tags == nil {
		c.Tags = make(map[string]string)
	}
	c.Tags[key] = value
}

// Tag returns the value recorded under key.
func (c *Context) Tag(key string) (string, bool) {
	v, ok := c.Tags[key]
	return v, ok
}

// CloneTags returns an independent copy of the tag map, or nil.
func (c *Context) CloneTags() map[string]string {
	if len(c.Tags) == 0 {
		return nil
	}
	return maps.Clone(c.Tags)
}

// Question returns the decoded question.
func (c *Context) Question() dns.Question {
	return dns.Question{Name: c.Name, Type: c.Type, Class: c.Class}
}

// Elapsed returns the time since the query was received.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.Received)
}
