package cache

import (
	"time"

	"github.com/jroosing/hydralb/internal/dns"
)

// EntryType categorizes cached DNS responses for different TTL handling.
type EntryType int

const (
	EntryPositive EntryType = iota // Successful response with answers
	EntryNXDOMAIN                  // Non-existent domain (RCODE=3)
	EntryNODATA                    // Name exists but no data for query type
	EntrySERVFAIL                  // Server failure (RCODE=2)
)

// String returns the label used in logs and metrics.
func (t EntryType) String() string {
	switch t {
	case EntryNXDOMAIN:
		return "nxdomain"
	case EntryNODATA:
		return "nodata"
	case EntrySERVFAIL:
		return "servfail"
	default:
		return "positive"
	}
}

// Decision is the outcome of analyzing a response for caching.
type Decision struct {
	TTL  time.Duration // zero means do not cache
	Type EntryType
}

// Decide determines caching parameters from a DNS response (RFC 2308):
//   - SERVFAIL: tempFailureTTL when set, otherwise the configured default
//   - NXDOMAIN and NODATA: SOA negative TTL, or the configured default
//   - NOERROR with answers: the smallest record TTL
//   - anything else, or truncated responses: not cached
func (c *Cache) Decide(resp []byte, qEnd int, tempFailureTTL time.Duration) Decision {
	if len(resp) < dns.HeaderSize || dns.IsTruncated(resp) {
		return Decision{}
	}
	v, err := dns.NewView(resp, len(resp))
	if err != nil {
		return Decision{}
	}

	switch v.RCode() {
	case dns.RCodeServFail:
		ttl := c.cfg.ServFailTTL
		if tempFailureTTL > 0 {
			ttl = tempFailureTTL
		}
		return Decision{TTL: ttl, Type: EntrySERVFAIL}
	case dns.RCodeNXDomain:
		return Decision{TTL: c.negativeTTL(resp, qEnd), Type: EntryNXDOMAIN}
	case dns.RCodeNoError:
	default:
		return Decision{}
	}

	if v.ANCount() == 0 {
		return Decision{TTL: c.negativeTTL(resp, qEnd), Type: EntryNODATA}
	}

	ttl, ok, err := dns.MinTTL(resp, qEnd)
	if err != nil || !ok {
		return Decision{}
	}
	return Decision{TTL: time.Duration(ttl) * time.Second, Type: EntryPositive}
}

func (c *Cache) negativeTTL(resp []byte, qEnd int) time.Duration {
	ttl, ok, err := dns.SOAMinimum(resp, qEnd)
	if err != nil || !ok {
		return c.cfg.NegativeTTL
	}
	return time.Duration(ttl) * time.Second
}
