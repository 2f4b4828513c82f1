package outlet

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Canonicalize maps an observed domain to its canonical outlet identifier.
// The alias table always wins over automatic root-domain collapse.
func Canonicalize(domain string, aliases map[string]string) string {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")

	if canonical, ok := aliases[d]; ok {
		return canonical
	}

	if net.ParseIP(d) != nil {
		return d
	}

	suffix := icannSuffix(d)
	if d == suffix || strings.Contains(d, "..") {
		return d
	}
	// One label in front of the suffix: news.bbc.co.uk -> bbc.co.uk
	rest := strings.TrimSuffix(d, "."+suffix)
	return rest[strings.LastIndexByte(rest, '.')+1:] + "." + suffix
}

// icannSuffix returns the public suffix of d ignoring the list's private
// entries, so hosted names like myblog.blogspot.com collapse to blogspot.com
func icannSuffix(d string) string {
	suffix, icann := publicsuffix.PublicSuffix(d)
	for !icann {
		i := strings.IndexByte(suffix, '.')
		if i < 0 {
			return suffix
		}
		suffix, icann = publicsuffix.PublicSuffix(suffix[i+1:])
	}
	return suffix
}

// Canonicalizer binds Canonicalize to an alias table
type Canonicalizer struct {
	aliases map[string]string
}

// NewCanonicalizer creates a canonicalizer over a copy of aliases with lowercased keys
func NewCanonicalizer(aliases map[string]string) *Canonicalizer {
	table := make(map[string]string, len(aliases))
	for alias, canonical := range aliases {
		table[strings.ToLower(strings.TrimSpace(alias))] = strings.ToLower(strings.TrimSpace(canonical))
	}
	return &Canonicalizer{aliases: table}
}

// Canonical resolves a domain
func (c *Canonicalizer) Canonical(domain string) string {
	return Canonicalize(domain, c.aliases)
}

// CanonicalFromURL resolves the host of rawURL, or "" when it has none
func (c *Canonicalizer) CanonicalFromURL(rawURL string) string {
	host := HostFromURL(rawURL)
	if host == "" {
		return ""
	}
	return c.Canonical(host)
}

// HostFromURL returns the lowercased host of rawURL without port and "www."
func HostFromURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}
