package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed sites_schema.json
var sitesSchemaJSON string

// SiteConfig holds the per-wiki settings from the sites file.
type SiteConfig struct {
	Domain               string `json:"-"`
	Project              string `json:"project"`
	Lang                 string `json:"lang"`
	Enabled              bool   `json:"enabled"`
	Namespaces           []int  `json:"namespaces"`
	PagetriageNamespaces []int  `json:"pagetriage-namespaces"`
}

// Sites is the parsed, validated sites file.
type Sites struct {
	URLIgnoreListTitle  string                `json:"url-ignore-list-title"`
	UserIgnoreListTitle string                `json:"user-ignore-list-title"`
	ByDomain            map[string]SiteConfig `json:"sites"`
}

// LoadSites reads and validates the sites file.
func LoadSites(path string) (*Sites, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file %q: %w", path, err)
	}
	return ParseSites(raw)
}

// ParseSites validates raw JSON against the embedded schema and decodes it.
func ParseSites(raw []byte) (*Sites, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("sites_schema.json", strings.NewReader(sitesSchemaJSON)); err != nil {
		return nil, fmt.Errorf("load sites schema: %w", err)
	}
	schema, err := compiler.Compile("sites_schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile sites schema: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("sites file failed schema validation: %w", err)
	}

	var sites Sites
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&sites); err != nil {
		return nil, fmt.Errorf("decode sites file: %w", err)
	}

	for domain, site := range sites.ByDomain {
		site.Domain = domain
		if site.Project == "" || site.Lang == "" {
			project, lang, err := splitDomain(domain)
			if err != nil {
				return nil, err
			}
			if site.Project == "" {
				site.Project = project
			}
			if site.Lang == "" {
				site.Lang = lang
			}
		}
		if len(site.Namespaces) == 0 {
			site.Namespaces = []int{0}
		}
		sites.ByDomain[domain] = site
	}

	if len(sites.EnabledDomains()) == 0 {
		return nil, fmt.Errorf("sites file enables no domains")
	}
	return &sites, nil
}

// Site returns the configuration for a domain, enabled or not.
func (s *Sites) Site(domain string) (SiteConfig, bool) {
	site, ok := s.ByDomain[strings.ToLower(strings.TrimSpace(domain))]
	return site, ok
}

// EnabledDomains lists the domains accepted by the intake filter, sorted.
func (s *Sites) EnabledDomains() []string {
	domains := make([]string, 0, len(s.ByDomain))
	for domain, site := range s.ByDomain {
		if site.Enabled {
			domains = append(domains, domain)
		}
	}
	sort.Strings(domains)
	return domains
}

// Enabled reports whether intake is enabled for the domain.
func (s *Sites) Enabled(domain string) bool {
	site, ok := s.Site(domain)
	return ok && site.Enabled
}

// splitDomain derives (project, lang) from a domain like en.wikipedia.org.
func splitDomain(domain string) (string, string, error) {
	parts := strings.Split(domain, ".")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("cannot derive project and lang from domain %q", domain)
	}
	return parts[1], parts[0], nil
}
