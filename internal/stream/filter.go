package stream

import (
	"context"

	"github.com/copyvio/copypatrol/internal/config"
)

// minRevisionSize is the smallest revision worth checking, in bytes.
const minRevisionSize = 500

// UserIgnorer filters revision authors against the on-wiki ignore list.
type UserIgnorer interface {
	IgnoredUser(ctx context.Context, user string) bool
}

// Filter decides which change events enter the queue.
type Filter struct {
	sites  *config.Sites
	ignore UserIgnorer
}

func NewFilter(sites *config.Sites, ignore UserIgnorer) *Filter {
	return &Filter{sites: sites, ignore: ignore}
}

// Accept applies the intake checks in order: change kind, revision size,
// unchanged content, site, namespace, and author.
func (f *Filter) Accept(ctx context.Context, event *ChangeEvent) bool {
	if event.Kind != "create" && event.Kind != "edit" {
		return false
	}
	if event.Revision.RevSize < minRevisionSize {
		return false
	}
	if event.Revision.RevSHA1 != "" && event.Revision.RevSHA1 == event.PriorState.Revision.RevSHA1 {
		return false
	}
	site, ok := f.sites.Site(event.Meta.Domain)
	if !ok || !site.Enabled {
		return false
	}
	if !containsNamespace(site.Namespaces, event.Page.NamespaceID) {
		return false
	}
	editor := event.Revision.Editor
	if editor.IsBot || editor.IsSystem {
		return false
	}
	if f.ignore != nil && f.ignore.IgnoredUser(ctx, editor.UserText) {
		return false
	}
	return true
}

func containsNamespace(namespaces []int, id int) bool {
	for _, namespace := range namespaces {
		if namespace == id {
			return true
		}
	}
	return false
}
