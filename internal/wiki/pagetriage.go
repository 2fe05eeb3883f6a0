package wiki

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

type pagetriageListResponse struct {
	Error          *apiError `json:"error"`
	PageTriageList struct {
		PagesMissingMetadata []int64 `json:"pages_missing_metadata"`
	} `json:"pagetriagelist"`
}

type pagetriageTagResponse struct {
	Error *apiError `json:"error"`
}

// SubmitPageTriage tags a revision as a potential copyright violation in
// the PageTriage feed. Pages missing triage metadata are skipped, which
// covers pages outside the triage queue.
func (c *Client) SubmitPageTriage(ctx context.Context, site Site, pageID, revID int64) error {
	params := url.Values{}
	params.Set("action", "pagetriagelist")
	params.Set("page_id", strconv.FormatInt(pageID, 10))

	var list pagetriageListResponse
	if err := c.do(ctx, site, http.MethodGet, params, &list); err != nil {
		return err
	}
	if list.Error != nil {
		return fmt.Errorf("%s api error %s: %s", site.Domain(), list.Error.Code, list.Error.Info)
	}
	for _, missing := range list.PageTriageList.PagesMissingMetadata {
		if missing == pageID {
			c.logger.Debug().Int64("page_id", pageID).Str("site", site.Domain()).Msg("page missing triage metadata, skipped")
			return nil
		}
	}

	token, err := c.csrfToken(ctx, site)
	if err != nil {
		return fmt.Errorf("fetch csrf token: %w", err)
	}

	params = url.Values{}
	params.Set("action", "pagetriagetagcopyvio")
	params.Set("revid", strconv.FormatInt(revID, 10))
	params.Set("token", token)

	var tag pagetriageTagResponse
	if err := c.do(ctx, site, http.MethodPost, params, &tag); err != nil {
		return err
	}
	if tag.Error != nil {
		return fmt.Errorf("%s api error %s: %s", site.Domain(), tag.Error.Code, tag.Error.Info)
	}
	c.logger.Debug().Int64("rev_id", revID).Str("site", site.Domain()).Msg("revision added to pagetriage")
	return nil
}

func (c *Client) csrfToken(ctx context.Context, site Site) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("meta", "tokens")

	out, err := c.query(ctx, site, http.MethodGet, params)
	if err != nil {
		return "", err
	}
	token, ok := out.Query.Tokens["csrftoken"]
	if !ok || token == "" {
		return "", fmt.Errorf("no csrf token in response from %s", site.Domain())
	}
	return token, nil
}
