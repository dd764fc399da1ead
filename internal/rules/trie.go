package rules

import "strings"

// domainTrie is a suffix tree over domain labels: "ads.example.com" is stored
// along the path com, example, ads. A node marked sub also covers every name
// below it. Built once per Chain, read-only afterwards.
type domainTrie struct {
	root labelNode
	size int
}

type labelNode struct {
	next map[string]*labelNode
	term bool // a listed domain ends here
	sub  bool // names below this node match too
}

func newDomainTrie() *domainTrie { return &domainTrie{} }

// add inserts domain. A leading "*." is the same as subdomains=true.
func (t *domainTrie) add(domain string, subdomains bool) {
	domain = normalizeDomain(domain)
	if rest, ok := strings.CutPrefix(domain, "*."); ok {
		domain, subdomains = rest, true
	}
	if domain == "" || strings.Contains(domain, "..") {
		return
	}

	n := &t.root
	for label, rest := lastLabel(domain); label != ""; label, rest = lastLabel(rest) {
		if n.next == nil {
			n.next = make(map[string]*labelNode, 2)
		}
		child := n.next[label]
		if child == nil {
			child = &labelNode{}
			n.next[label] = child
		}
		n = child
	}
	if !n.term {
		t.size++
	}
	n.term = true
	n.sub = n.sub || subdomains
}

// contains reports whether the normalized name is listed or lies strictly
// below a domain listed with subdomains.
func (t *domainTrie) contains(name string) bool {
	n := &t.root
	for label, rest := lastLabel(name); label != ""; label, rest = lastLabel(rest) {
		if n = n.next[label]; n == nil {
			return false
		}
		if n.sub && rest != "" {
			return true
		}
	}
	return n != &t.root && n.term
}

// lastLabel splits "a.b.c" into "c" and "a.b".
func lastLabel(name string) (label, rest string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, ""
	}
	return name[i+1:], name[:i]
}

func normalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
