package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainTrie(t *testing.T) {
	type entry struct {
		domain     string
		subdomains bool
	}
	tests := []struct {
		name  string
		add   []entry
		check string
		want  bool
	}{
		{name: "exact match", add: []entry{{"example.com", false}}, check: "example.com", want: true},
		{name: "added with different case", add: []entry{{"Example.COM.", false}}, check: "example.com", want: true},
		{name: "subdomain without subdomains flag", add: []entry{{"example.com", false}}, check: "www.example.com", want: false},
		{name: "subdomain with subdomains flag", add: []entry{{"example.com", true}}, check: "a.b.example.com", want: true},
		{name: "apex with subdomains flag", add: []entry{{"example.com", true}}, check: "example.com", want: true},
		{name: "star prefix", add: []entry{{"*.example.com", false}}, check: "www.example.com", want: true},
		{name: "parent of entry", add: []entry{{"www.example.com", true}}, check: "example.com", want: false},
		{name: "label boundary", add: []entry{{"example.com", true}}, check: "badexample.com", want: false},
		{name: "empty name", add: []entry{{"example.com", true}}, check: "", want: false},
		{name: "sibling", add: []entry{{"a.example.com", false}, {"b.example.com", false}}, check: "b.example.com", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trie := newDomainTrie()
			for _, e := range tt.add {
				trie.add(e.domain, e.subdomains)
			}
			assert.Equal(t, tt.want, trie.contains(tt.check))
		})
	}
}

func TestDomainTrie_SizeCountsDistinctDomains(t *testing.T) {
	trie := newDomainTrie()
	trie.add("example.com", false)
	trie.add("EXAMPLE.com", true)
	trie.add("", true)
	trie.add("example.org", false)
	assert.Equal(t, 2, trie.size)
	assert.True(t, trie.contains("x.example.com"), "subdomain flag is sticky")
}
