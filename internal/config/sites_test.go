package config

import (
	"strings"
	"testing"
)

func TestParseSitesDefaultsAndDerivation(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"url-ignore-list-title": "CopyPatrol/URL ignore list",
		"user-ignore-list-title": "CopyPatrol/User ignore list",
		"sites": {
			"en.wikipedia.org": {"enabled": true},
			"fr.wikisource.org": {"enabled": false, "namespaces": [0, 118]}
		}
	}`)

	sites, err := ParseSites(raw)
	if err != nil {
		t.Fatalf("ParseSites: %v", err)
	}
	en, ok := sites.Site("en.wikipedia.org")
	if !ok {
		t.Fatalf("en.wikipedia.org missing")
	}
	if en.Project != "wikipedia" || en.Lang != "en" {
		t.Fatalf("derived project/lang = %q/%q", en.Project, en.Lang)
	}
	if len(en.Namespaces) != 1 || en.Namespaces[0] != 0 {
		t.Fatalf("namespaces should default to the main namespace, got %v", en.Namespaces)
	}
	fr, _ := sites.Site("fr.wikisource.org")
	if len(fr.Namespaces) != 2 || fr.Namespaces[1] != 118 {
		t.Fatalf("explicit namespaces not kept: %v", fr.Namespaces)
	}
	if domains := sites.EnabledDomains(); len(domains) != 1 || domains[0] != "en.wikipedia.org" {
		t.Fatalf("enabled domains = %v", domains)
	}
	if sites.Enabled("fr.wikisource.org") {
		t.Fatalf("disabled site reported enabled")
	}
	if sites.URLIgnoreListTitle != "CopyPatrol/URL ignore list" {
		t.Fatalf("url ignore list title = %q", sites.URLIgnoreListTitle)
	}
}

func TestParseSitesSchemaRejection(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing sites key": `{"url-ignore-list-title": "x"}`,
		"empty sites":       `{"sites": {}}`,
		"enabled not bool":  `{"sites": {"en.wikipedia.org": {"enabled": "yes"}}}`,
		"unknown site key":  `{"sites": {"en.wikipedia.org": {"enabled": true, "treshold": 1}}}`,
		"string namespace":  `{"sites": {"en.wikipedia.org": {"enabled": true, "namespaces": ["0"]}}}`,
	}
	for name, raw := range cases {
		if _, err := ParseSites([]byte(raw)); err == nil {
			t.Errorf("%s: expected schema rejection", name)
		}
	}
}

func TestParseSitesNoEnabledDomains(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"sites": {"en.wikipedia.org": {"enabled": false}}}`)
	_, err := ParseSites(raw)
	if err == nil || !strings.Contains(err.Error(), "enables no domains") {
		t.Fatalf("expected no-enabled-domains error, got %v", err)
	}
}

func TestParseSitesUnderivableDomain(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"sites": {"localhost": {"enabled": true}}}`)
	if _, err := ParseSites(raw); err == nil {
		t.Fatalf("expected error for underivable domain")
	}
}
