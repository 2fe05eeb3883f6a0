package wiki

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/copyvio/copypatrol/internal/wikitext"
)

const (
	categoryNamespaceID = 14
	fileNamespaceID     = 6
)

type siteinfoResponse struct {
	Error *apiError `json:"error"`
	Query struct {
		Namespaces map[string]struct {
			ID        int    `json:"id"`
			Name      string `json:"name"`
			Canonical string `json:"canonical"`
		} `json:"namespaces"`
		NamespaceAliases []struct {
			ID    int    `json:"id"`
			Alias string `json:"alias"`
		} `json:"namespacealiases"`
		FileExtensions []struct {
			Ext string `json:"ext"`
		} `json:"fileextensions"`
	} `json:"query"`
}

// Markup returns the site's cleaning vocabulary built from siteinfo,
// cached for the lifetime of the client. Lookup failures fall back to
// the default vocabulary so cleaning still proceeds.
func (c *Client) Markup(ctx context.Context, site Site) *wikitext.Markup {
	c.mu.Lock()
	if markup, ok := c.markups[site.Domain()]; ok {
		c.mu.Unlock()
		return markup
	}
	c.mu.Unlock()

	markup, err := c.loadMarkup(ctx, site)
	if err != nil {
		c.logger.Warn().Err(err).Str("site", site.Domain()).Msg("siteinfo lookup failed, using default markup")
		return wikitext.DefaultMarkup()
	}

	c.mu.Lock()
	c.markups[site.Domain()] = markup
	c.mu.Unlock()
	return markup
}

func (c *Client) loadMarkup(ctx context.Context, site Site) (*wikitext.Markup, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("meta", "siteinfo")
	params.Set("siprop", "namespaces|namespacealiases|fileextensions")

	var out siteinfoResponse
	if err := c.do(ctx, site, http.MethodGet, params, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%s api error %s: %s", site.Domain(), out.Error.Code, out.Error.Info)
	}

	names := map[int][]string{}
	for _, ns := range out.Query.Namespaces {
		if ns.ID != categoryNamespaceID && ns.ID != fileNamespaceID {
			continue
		}
		names[ns.ID] = append(names[ns.ID], ns.Name)
		if ns.Canonical != "" && ns.Canonical != ns.Name {
			names[ns.ID] = append(names[ns.ID], ns.Canonical)
		}
	}
	for _, alias := range out.Query.NamespaceAliases {
		if alias.ID == categoryNamespaceID || alias.ID == fileNamespaceID {
			names[alias.ID] = append(names[alias.ID], alias.Alias)
		}
	}

	extensions := make([]string, 0, len(out.Query.FileExtensions))
	for _, ext := range out.Query.FileExtensions {
		extensions = append(extensions, ext.Ext)
	}

	return wikitext.NewMarkup(names[categoryNamespaceID], names[fileNamespaceID], extensions), nil
}
