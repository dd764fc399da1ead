package rules

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// loadDomainFile adds every domain listed in the file at path to t.
func loadDomainFile(t *domainTrie, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("domain list: %w", err)
	}
	defer f.Close()
	if err := parseDomainList(t, f); err != nil {
		return fmt.Errorf("domain list %s: %w", path, err)
	}
	return nil
}

// parseDomainList reads one entry per line. Each line may be a plain domain,
// a hosts entry ("0.0.0.0 ads.example") or an adblock rule ("||ads.example^").
// Every entry also matches its subdomains. Comments start with '#' or '!'.
func parseDomainList(t *domainTrie, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	// Some published lists have very long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if domain := parseListLine(scanner.Text()); domain != "" {
			t.add(domain, true)
		}
	}
	return scanner.Err()
}

func parseListLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' || line[0] == '!' {
		return ""
	}

	if rest, ok := strings.CutPrefix(line, "||"); ok {
		// Adblock: ||domain^$options. Path and wildcard rules are not
		// domain rules.
		if i := strings.IndexAny(rest, "^$"); i >= 0 {
			rest = rest[:i]
		}
		if strings.ContainsAny(rest, "/*") {
			return ""
		}
		return validDomain(rest)
	}
	if strings.HasPrefix(line, "@@") {
		return ""
	}

	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
		return validDomain(fields[0])
	case 0:
		return ""
	}
	// Hosts: sink address followed by the name.
	switch fields[0] {
	case "0.0.0.0", "127.0.0.1", "::", "::1":
	default:
		return ""
	}
	d := validDomain(fields[1])
	if d == "localhost" || d == "localhost.localdomain" {
		return ""
	}
	return d
}

// validDomain returns the normalized domain, or "" when it is not a
// hostname with at least two labels.
func validDomain(domain string) string {
	domain = normalizeDomain(domain)
	if domain == "" || len(domain) > 253 || !strings.Contains(domain, ".") {
		return ""
	}
	for label := range strings.SplitSeq(domain, ".") {
		if label == "" || len(label) > 63 {
			return ""
		}
		if !isAlphaNum(label[0]) || !isAlphaNum(label[len(label)-1]) {
			return ""
		}
		for i := range len(label) {
			if c := label[i]; !isAlphaNum(c) && c != '-' && c != '_' {
				return ""
			}
		}
	}
	return domain
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
