package config

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/globaltime"
)

// DefaultIgnoreTTL bounds how stale the cached ignore lists may get.
const DefaultIgnoreTTL = time.Hour

// PageTextFunc fetches the current wikitext of an on-wiki list page.
type PageTextFunc func(ctx context.Context, title string) (string, error)

var userLinkRegex = regexp.MustCompile(`(?i)\[\[\s*:?\s*user(?: talk)?\s*:\s*([^\[\]|#/]+)`)

// IgnoreLists is a read-through cache for the on-wiki URL and user ignore
// lists. Both lists refresh independently once their TTL expires; a fetch
// failure keeps serving the previous value.
type IgnoreLists struct {
	fetch     PageTextFunc
	urlTitle  string
	userTitle string
	ttl       time.Duration
	logger    zerolog.Logger

	mu          sync.Mutex
	urls        []*regexp.Regexp
	urlExpires  time.Time
	users       map[string]struct{}
	userExpires time.Time
}

func NewIgnoreLists(fetch PageTextFunc, sites *Sites, ttl time.Duration, logger zerolog.Logger) *IgnoreLists {
	if ttl <= 0 {
		ttl = DefaultIgnoreTTL
	}
	return &IgnoreLists{
		fetch:     fetch,
		urlTitle:  strings.TrimSpace(sites.URLIgnoreListTitle),
		userTitle: strings.TrimSpace(sites.UserIgnoreListTitle),
		ttl:       ttl,
		logger:    logger,
	}
}

// URLPatterns returns the compiled URL ignore patterns, refreshing when stale.
func (l *IgnoreLists) URLPatterns(ctx context.Context) []*regexp.Regexp {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := globaltime.UTC()
	if l.urls != nil && now.Before(l.urlExpires) {
		return l.urls
	}
	patterns, err := l.loadURLPatterns(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Str("title", l.urlTitle).Msg("url ignore list refresh failed")
		return l.urls
	}
	l.urls = patterns
	l.urlExpires = now.Add(l.ttl)
	return l.urls
}

// Users returns the ignored user set, refreshing when stale.
func (l *IgnoreLists) Users(ctx context.Context) map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := globaltime.UTC()
	if l.users != nil && now.Before(l.userExpires) {
		return l.users
	}
	users, err := l.loadUsers(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Str("title", l.userTitle).Msg("user ignore list refresh failed")
		return l.users
	}
	l.users = users
	l.userExpires = now.Add(l.ttl)
	return l.users
}

// Refresh forces both lists to reload on next use.
func (l *IgnoreLists) Refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urlExpires = time.Time{}
	l.userExpires = time.Time{}
}

// IgnoredURL reports whether any ignore pattern matches the URL.
func (l *IgnoreLists) IgnoredURL(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	for _, pattern := range l.URLPatterns(ctx) {
		if pattern.MatchString(url) {
			return true
		}
	}
	return false
}

// IgnoredUser reports whether the username is on the ignore list.
func (l *IgnoreLists) IgnoredUser(ctx context.Context, user string) bool {
	_, ok := l.Users(ctx)[normalizeUsername(user)]
	return ok
}

func (l *IgnoreLists) loadURLPatterns(ctx context.Context) ([]*regexp.Regexp, error) {
	patterns := []*regexp.Regexp{}
	if l.urlTitle == "" {
		return patterns, nil
	}
	text, err := l.fetch(ctx, l.urlTitle)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(text, "\n") {
		line, _, _ = strings.Cut(line, "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pattern, err := regexp.Compile("(?i)" + line)
		if err != nil {
			l.logger.Error().Str("pattern", line).Msg("invalid regex ignored")
			continue
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func (l *IgnoreLists) loadUsers(ctx context.Context) (map[string]struct{}, error) {
	users := map[string]struct{}{}
	if l.userTitle == "" {
		return users, nil
	}
	text, err := l.fetch(ctx, l.userTitle)
	if err != nil {
		return nil, err
	}
	for _, match := range userLinkRegex.FindAllStringSubmatch(text, -1) {
		if name := normalizeUsername(match[1]); name != "" {
			users[name] = struct{}{}
		}
	}
	return users, nil
}

func normalizeUsername(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, "_", " "))
}
