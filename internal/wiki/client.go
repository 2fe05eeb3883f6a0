package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/config"
	"github.com/copyvio/copypatrol/internal/wikitext"
)

const (
	DefaultRequestTimeout = 30 * time.Second

	defaultUserAgent = "copypatrol-backend/1.0 (+https://github.com/copyvio/copypatrol)"
)

// ErrRevisionsMissing marks a revision query whose ids no longer resolve,
// typically because the page or revision was deleted.
var ErrRevisionsMissing = errors.New("one or more revisions are missing")

// Revision is a single revision with its page's current location.
type Revision struct {
	ID            int64
	ParentID      int64
	PageID        int64
	Namespace     int
	Title         string
	Timestamp     time.Time
	User          string
	Comment       string
	CommentHidden bool
	TextHidden    bool
	SHA1          string
	Size          int64
	Tags          []string
	Text          string
}

// HasTag reports whether the revision carries the named change tag.
func (r Revision) HasTag(name string) bool {
	for _, tag := range r.Tags {
		if tag == name {
			return true
		}
	}
	return false
}

// PageInfo is the current state of one page.
type PageInfo struct {
	PageID    int64
	Namespace int
	Title     string
	Missing   bool
	LastRevID int64
}

// Client talks to the MediaWiki Action API of any configured site.
// Markup vocabularies from siteinfo are cached per domain.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	accessToken string
	logger      zerolog.Logger

	// baseURL overrides the per-site endpoint, used by tests
	baseURL string

	mu      sync.Mutex
	markups map[string]*wikitext.Markup
}

func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	userAgent := defaultUserAgent
	if cfg != nil && strings.TrimSpace(cfg.WikiUserAgent) != "" {
		userAgent = strings.TrimSpace(cfg.WikiUserAgent)
	}
	accessToken := ""
	if cfg != nil {
		accessToken = strings.TrimSpace(cfg.WikiAccessToken)
	}
	return &Client{
		httpClient:  &http.Client{Timeout: DefaultRequestTimeout},
		userAgent:   userAgent,
		accessToken: accessToken,
		logger:      logger,
		markups:     map[string]*wikitext.Markup{},
	}
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type slotData struct {
	Content    string `json:"content"`
	TextHidden bool   `json:"texthidden"`
}

type revisionData struct {
	RevID         int64    `json:"revid"`
	ParentID      int64    `json:"parentid"`
	Timestamp     string   `json:"timestamp"`
	User          string   `json:"user"`
	Comment       string   `json:"comment"`
	CommentHidden bool     `json:"commenthidden"`
	SHA1          string   `json:"sha1"`
	Size          int64    `json:"size"`
	Tags          []string `json:"tags"`
	Slots         struct {
		Main slotData `json:"main"`
	} `json:"slots"`
}

type pageData struct {
	PageID    int64          `json:"pageid"`
	Namespace int            `json:"ns"`
	Title     string         `json:"title"`
	Missing   bool           `json:"missing"`
	LastRevID int64          `json:"lastrevid"`
	Revisions []revisionData `json:"revisions"`
}

type queryResponse struct {
	Error *apiError `json:"error"`
	Query struct {
		BadRevIDs map[string]json.RawMessage `json:"badrevids"`
		Pages     []pageData                 `json:"pages"`
		Tokens    map[string]string          `json:"tokens"`
	} `json:"query"`
}

func (c *Client) do(ctx context.Context, site Site, method string, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")

	endpoint := "https://" + site.Domain() + "/w/api.php"
	if c.baseURL != "" {
		endpoint = c.baseURL
	}

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return fmt.Errorf("build api request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s api: %w", site.Domain(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s api returned status %d: %s", site.Domain(), resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s api response: %w", site.Domain(), err)
	}
	return nil
}

func (c *Client) query(ctx context.Context, site Site, method string, params url.Values) (*queryResponse, error) {
	var out queryResponse
	if err := c.do(ctx, site, method, params, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%s api error %s: %s", site.Domain(), out.Error.Code, out.Error.Info)
	}
	return &out, nil
}

// LoadRevisions fetches the given revisions keyed by id. Any id that no
// longer resolves makes the whole call fail with ErrRevisionsMissing.
func (c *Client) LoadRevisions(ctx context.Context, site Site, revIDs []int64, content bool) (map[int64]Revision, error) {
	if len(revIDs) == 0 {
		return map[int64]Revision{}, nil
	}

	rvprop := "ids|flags|timestamp|user|userid|size|sha1|contentmodel|comment|tags|roles"
	if content {
		rvprop += "|content"
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "revisions")
	params.Set("revids", joinIDs(revIDs))
	params.Set("rvprop", rvprop)
	params.Set("rvslots", "*")

	out, err := c.query(ctx, site, http.MethodGet, params)
	if err != nil {
		return nil, err
	}
	if len(out.Query.BadRevIDs) > 0 {
		return nil, fmt.Errorf("revisions %s on %s: %w", joinIDs(revIDs), site.Domain(), ErrRevisionsMissing)
	}

	revisions := make(map[int64]Revision, len(revIDs))
	for _, page := range out.Query.Pages {
		for _, rev := range page.Revisions {
			parsed, err := buildRevision(page, rev)
			if err != nil {
				return nil, err
			}
			revisions[parsed.ID] = parsed
		}
	}
	return revisions, nil
}

// ResolveRevision loads a single revision without content, which carries
// the page's current namespace and title.
func (c *Client) ResolveRevision(ctx context.Context, site Site, revID int64) (*Revision, error) {
	revisions, err := c.LoadRevisions(ctx, site, []int64{revID}, false)
	if err != nil {
		return nil, err
	}
	rev, ok := revisions[revID]
	if !ok {
		return nil, fmt.Errorf("revision %d on %s: %w", revID, site.Domain(), ErrRevisionsMissing)
	}
	return &rev, nil
}

// PageInfo looks a page up by title. Missing pages return with the
// Missing flag set rather than an error.
func (c *Client) PageInfo(ctx context.Context, site Site, title string) (*PageInfo, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "info")
	params.Set("titles", title)

	out, err := c.query(ctx, site, http.MethodGet, params)
	if err != nil {
		return nil, err
	}
	if len(out.Query.Pages) == 0 {
		return nil, fmt.Errorf("page %q on %s: empty query result", title, site.Domain())
	}
	page := out.Query.Pages[0]
	return &PageInfo{
		PageID:    page.PageID,
		Namespace: page.Namespace,
		Title:     page.Title,
		Missing:   page.Missing,
		LastRevID: page.LastRevID,
	}, nil
}

// PageRevisions returns a page's most recent revisions, newest first.
// A missing page returns an empty slice.
func (c *Client) PageRevisions(ctx context.Context, site Site, title string, limit int, content bool) ([]Revision, error) {
	if limit <= 0 {
		limit = 1
	}

	rvprop := "ids|flags|timestamp|user|comment|tags|sha1|size"
	if content {
		rvprop += "|content"
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "revisions")
	params.Set("titles", title)
	params.Set("rvprop", rvprop)
	params.Set("rvslots", "*")
	params.Set("rvlimit", strconv.Itoa(limit))

	out, err := c.query(ctx, site, http.MethodGet, params)
	if err != nil {
		return nil, err
	}
	if len(out.Query.Pages) == 0 || out.Query.Pages[0].Missing {
		return nil, nil
	}

	page := out.Query.Pages[0]
	revisions := make([]Revision, 0, len(page.Revisions))
	for _, rev := range page.Revisions {
		parsed, err := buildRevision(page, rev)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, parsed)
	}
	return revisions, nil
}

// PageText returns the current wikitext of a page, empty when the page
// does not exist.
func (c *Client) PageText(ctx context.Context, site Site, title string) (string, error) {
	revisions, err := c.PageRevisions(ctx, site, title, 1, true)
	if err != nil {
		return "", err
	}
	if len(revisions) == 0 {
		return "", nil
	}
	return revisions[0].Text, nil
}

func buildRevision(page pageData, rev revisionData) (Revision, error) {
	timestamp, err := time.Parse(time.RFC3339, rev.Timestamp)
	if err != nil {
		return Revision{}, fmt.Errorf("parse revision %d timestamp %q: %w", rev.RevID, rev.Timestamp, err)
	}
	return Revision{
		ID:            rev.RevID,
		ParentID:      rev.ParentID,
		PageID:        page.PageID,
		Namespace:     page.Namespace,
		Title:         page.Title,
		Timestamp:     timestamp,
		User:          rev.User,
		Comment:       rev.Comment,
		CommentHidden: rev.CommentHidden,
		TextHidden:    rev.Slots.Main.TextHidden,
		SHA1:          rev.SHA1,
		Size:          rev.Size,
		Tags:          rev.Tags,
		Text:          rev.Slots.Main.Content,
	}, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, "|")
}
