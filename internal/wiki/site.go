// Package wiki is a thin MediaWiki Action API client covering the
// queries this service needs: revision loading, page lookup, and the
// PageTriage copyvio tag.
package wiki

import (
	"fmt"
	"strings"
)

// Site identifies one wiki by project family and language code.
type Site struct {
	Project string
	Lang    string
}

// Domain renders the canonical host, e.g. {wikipedia en} -> en.wikipedia.org.
func (s Site) Domain() string {
	return fmt.Sprintf("%s.%s.org", s.Lang, s.Project)
}

func (s Site) String() string {
	return s.Domain()
}

// ParseDomain inverts Domain, e.g. en.wikipedia.org -> {wikipedia en}.
func ParseDomain(domain string) (Site, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(domain)), ".")
	if len(parts) < 3 {
		return Site{}, fmt.Errorf("cannot derive site from domain %q", domain)
	}
	return Site{Project: parts[1], Lang: parts[0]}, nil
}
