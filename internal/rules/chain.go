package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/jroosing/hydralb/internal/dns"
	"github.com/jroosing/hydralb/internal/query"
)

// ErrInvalidRule is returned by Compile for a rule it cannot build.
var ErrInvalidRule = errors.New("invalid rule")

// Query rule actions.
const (
	ActionAllow       = "allow"        // stop evaluating, continue
	ActionDrop        = "drop"         // drop the query
	ActionRefused     = "refused"      // answer or rewrite to REFUSED
	ActionNXDomain    = "nxdomain"     // answer or rewrite to NXDOMAIN
	ActionServFail    = "servfail"     // answer or rewrite to SERVFAIL
	ActionTruncate    = "truncate"     // answer TC=1
	ActionSendAsIs    = "send-as-is"   // forward without the cache
	ActionPool        = "pool"         // route to the pool named by Arg
	ActionSkipCache   = "skip-cache"   // do not read or fill the cache
	ActionNoECS       = "no-ecs"       // do not add client subnet
	ActionECSOverride = "ecs-override" // replace a client-supplied subnet
	ActionTag         = "tag"          // Arg is key=value
	ActionDelay       = "delay"        // Arg is a duration
	ActionServFailTTL = "servfail-ttl" // Arg is a duration
)

// Rule is the configuration of a single rule. A rule matches when every
// non-empty criterion matches.
type Rule struct {
	Name        string   `yaml:"name"         json:"name"`
	Domains     []string `yaml:"domains"      json:"domains,omitempty"`      // suffixes, "*.x" or plain names match subdomains
	DomainFiles []string `yaml:"domain_files" json:"domain_files,omitempty"` // lists in domains, hosts or adblock format
	QTypes      []string `yaml:"qtypes"       json:"qtypes,omitempty"`       // mnemonics or numbers
	Sources     []string `yaml:"sources"      json:"sources,omitempty"`      // client CIDRs
	RCodes      []string `yaml:"rcodes"       json:"rcodes,omitempty"`       // response rules only
	Kinds       []string `yaml:"kinds"        json:"kinds,omitempty"`        // response rules only
	Action      string   `yaml:"action"       json:"action"`
	Arg         string   `yaml:"arg"          json:"arg,omitempty"`
	Response    bool     `yaml:"response"     json:"response,omitempty"` // run on answers instead of queries
}

// RuleStats reports how often a rule matched.
type RuleStats struct {
	Stage  string `json:"stage"` // "query" or "response"
	Index  int    `json:"index"` // position within its stage
	Name   string `json:"name"`
	Action string `json:"action"`
	Hits   uint64 `json:"hits"`
}

type compiled struct {
	name    string
	action  string
	domains *domainTrie
	qtypes  map[uint16]struct{}
	sources []netip.Prefix
	rcodes  map[dns.RCode]struct{}
	kinds   map[ResponseKind]struct{}

	pool  string
	tagK  string
	tagV  string
	delay time.Duration

	hits atomic.Uint64
}

// Chain is an ordered, immutable rule set. It implements both QueryRules and
// ResponseRules. Rules are evaluated in order; terminal actions stop the walk.
type Chain struct {
	query    []*compiled
	response []*compiled
	logger   *slog.Logger
}

// Compile builds a Chain from configuration.
func Compile(rules []Rule, logger *slog.Logger) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{logger: logger}
	for i, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		if r.Response {
			c.response = append(c.response, cr)
		} else {
			c.query = append(c.query, cr)
		}
	}
	return c, nil
}

func compileRule(r Rule) (*compiled, error) {
	cr := &compiled{name: r.Name, action: strings.ToLower(strings.TrimSpace(r.Action))}
	if cr.name == "" {
		cr.name = cr.action
	}

	if len(r.Domains) > 0 || len(r.DomainFiles) > 0 {
		cr.domains = newDomainTrie()
		for _, d := range r.Domains {
			// Plain names also cover their subdomains.
			cr.domains.add(d, true)
		}
		for _, path := range r.DomainFiles {
			if err := loadDomainFile(cr.domains, path); err != nil {
				return nil, err
			}
		}
	}
	if len(r.QTypes) > 0 {
		cr.qtypes = make(map[uint16]struct{}, len(r.QTypes))
		for _, s := range r.QTypes {
			t, err := parseQType(s)
			if err != nil {
				return nil, err
			}
			cr.qtypes[t] = struct{}{}
		}
	}
	for _, s := range r.Sources {
		p, err := parseSource(s)
		if err != nil {
			return nil, err
		}
		cr.sources = append(cr.sources, p)
	}

	if r.Response {
		return cr, compileResponse(cr, r)
	}
	if len(r.RCodes) > 0 || len(r.Kinds) > 0 {
		return nil, fmt.Errorf("%w: rcodes and kinds apply to response rules only", ErrInvalidRule)
	}
	return cr, compileQuery(cr, r)
}

func compileQuery(cr *compiled, r Rule) error {
	switch cr.action {
	case ActionAllow, ActionDrop, ActionRefused, ActionNXDomain, ActionServFail,
		ActionTruncate, ActionSendAsIs, ActionSkipCache, ActionNoECS, ActionECSOverride:
		return nil
	case ActionPool:
		cr.pool = r.Arg
		return nil
	case ActionTag:
		k, v, ok := strings.Cut(r.Arg, "=")
		if !ok || k == "" {
			return fmt.Errorf("%w: tag wants key=value, got %q", ErrInvalidRule, r.Arg)
		}
		cr.tagK, cr.tagV = k, v
		return nil
	case ActionDelay, ActionServFailTTL:
		d, err := time.ParseDuration(r.Arg)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: %s wants a duration, got %q", ErrInvalidRule, cr.action, r.Arg)
		}
		cr.delay = d
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, r.Action)
	}
}

func compileResponse(cr *compiled, r Rule) error {
	if len(r.RCodes) > 0 {
		cr.rcodes = make(map[dns.RCode]struct{}, len(r.RCodes))
		for _, s := range r.RCodes {
			rc, err := parseRCode(s)
			if err != nil {
				return err
			}
			cr.rcodes[rc] = struct{}{}
		}
	}
	if len(r.Kinds) > 0 {
		cr.kinds = make(map[ResponseKind]struct{}, len(r.Kinds))
		for _, s := range r.Kinds {
			k, err := parseKind(s)
			if err != nil {
				return err
			}
			cr.kinds[k] = struct{}{}
		}
	}

	switch cr.action {
	case ActionAllow, ActionDrop, ActionRefused, ActionNXDomain, ActionServFail:
		return nil
	case ActionTag, ActionDelay:
		return compileQuery(cr, r)
	default:
		return fmt.Errorf("%w: action %q is not valid on responses", ErrInvalidRule, r.Action)
	}
}

func (cr *compiled) matches(qc *query.Context) bool {
	if cr.domains != nil && !cr.domains.contains(qc.Name) {
		return false
	}
	if cr.qtypes != nil {
		if _, ok := cr.qtypes[qc.Type]; !ok {
			return false
		}
	}
	if len(cr.sources) > 0 {
		addr := qc.Client.Addr().Unmap()
		found := false
		for _, p := range cr.sources {
			if p.Contains(addr) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Apply runs the query rules against qc.
func (c *Chain) Apply(qc *query.Context) Verdict {
	for _, cr := range c.query {
		if !cr.matches(qc) {
			continue
		}
		cr.hits.Add(1)
		c.logger.Debug("query rule matched", "rule", cr.name, "action", cr.action, "qname", qc.Name, "client", qc.Client)

		if v, stop := c.applyQuery(cr, qc); stop {
			return v
		}
	}
	return Continue
}

func (c *Chain) applyQuery(cr *compiled, qc *query.Context) (Verdict, bool) {
	switch cr.action {
	case ActionAllow:
		return Continue, true
	case ActionDrop:
		return Drop, true
	case ActionRefused:
		return c.answer(qc, dns.RCodeRefused)
	case ActionNXDomain:
		return c.answer(qc, dns.RCodeNXDomain)
	case ActionServFail:
		return c.answer(qc, dns.RCodeServFail)
	case ActionTruncate:
		if err := dns.TruncatedResponse(qc.View, qc.QEnd); err != nil {
			c.logger.Warn("truncate rule failed", "rule", cr.name, "err", err)
			return Drop, true
		}
		return Truncate, true
	case ActionSendAsIs:
		qc.SkipCache = true
		return SendAsIs, true
	case ActionPool:
		qc.PoolName = cr.pool
	case ActionSkipCache:
		qc.SkipCache = true
	case ActionNoECS:
		qc.UseECS = false
	case ActionECSOverride:
		qc.ECSOverride = true
	case ActionTag:
		qc.SetTag(cr.tagK, cr.tagV)
	case ActionDelay:
		qc.Delay = cr.delay
	case ActionServFailTTL:
		qc.TempFailureTTL = cr.delay
	}
	return Continue, false
}

func (c *Chain) answer(qc *query.Context, rc dns.RCode) (Verdict, bool) {
	if err := dns.ErrorResponse(qc.View, qc.QEnd, rc); err != nil {
		c.logger.Warn("self-answer rule failed", "rcode", rc, "err", err)
		return Drop, true
	}
	return SelfAnswer, true
}

// ApplyResponse runs the response rules against an answer about to be sent.
func (c *Chain) ApplyResponse(kind ResponseKind, qc *query.Context, resp *dns.View) Verdict {
	for _, cr := range c.response {
		if cr.kinds != nil {
			if _, ok := cr.kinds[kind]; !ok {
				continue
			}
		}
		if cr.rcodes != nil {
			if _, ok := cr.rcodes[resp.RCode()]; !ok {
				continue
			}
		}
		if !cr.matches(qc) {
			continue
		}
		cr.hits.Add(1)
		c.logger.Debug("response rule matched", "rule", cr.name, "action", cr.action, "kind", kind, "qname", qc.Name)

		switch cr.action {
		case ActionAllow:
			return Continue
		case ActionDrop:
			return Drop
		case ActionRefused:
			resp.SetRCode(dns.RCodeRefused)
			return Continue
		case ActionNXDomain:
			resp.SetRCode(dns.RCodeNXDomain)
			return Continue
		case ActionServFail:
			resp.SetRCode(dns.RCodeServFail)
			return Continue
		case ActionTag:
			qc.SetTag(cr.tagK, cr.tagV)
		case ActionDelay:
			qc.Delay = cr.delay
		}
	}
	return Continue
}

// Len returns the number of query and response rules.
func (c *Chain) Len() (queryRules, responseRules int) {
	return len(c.query), len(c.response)
}

// Stats returns the hit counters of every rule, query rules first.
func (c *Chain) Stats() []RuleStats {
	out := make([]RuleStats, 0, len(c.query)+len(c.response))
	for i, cr := range c.query {
		out = append(out, RuleStats{Stage: "query", Index: i, Name: cr.name, Action: cr.action, Hits: cr.hits.Load()})
	}
	for i, cr := range c.response {
		out = append(out, RuleStats{Stage: "response", Index: i, Name: cr.name, Action: cr.action, Hits: cr.hits.Load()})
	}
	return out
}

func parseQType(s string) (uint16, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if t, ok := mdns.StringToType[s]; ok {
		return t, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "TYPE"), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown qtype %q", ErrInvalidRule, s)
	}
	return uint16(n), nil
}

func parseRCode(s string) (dns.RCode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if rc, ok := mdns.StringToRcode[s]; ok && rc <= int(dns.RCodeMask) {
		return dns.RCode(rc), nil
	}
	n, err := strconv.ParseUint(s, 10, 4)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown rcode %q", ErrInvalidRule, s)
	}
	return dns.RCode(n), nil
}

func parseKind(s string) (ResponseKind, error) {
	for _, k := range []ResponseKind{KindResponse, KindSelfAnswered, KindCacheHit} {
		if strings.EqualFold(strings.TrimSpace(s), k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown response kind %q", ErrInvalidRule, s)
}

func parseSource(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: bad source %q", ErrInvalidRule, s)
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: bad source %q", ErrInvalidRule, s)
	}
	return p.Masked(), nil
}
