// Package stream consumes the mediawiki.page_change.v1 event stream and
// filters it down to the revisions worth checking.
package stream

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed page_change_schema.json
var pageChangeSchemaJSON string

var pageChangeSchema = jsonschema.MustCompileString("page_change_schema.json", pageChangeSchemaJSON)

// Editor identifies the author of a revision.
type Editor struct {
	UserText string `json:"user_text"`
	IsBot    bool   `json:"is_bot"`
	IsSystem bool   `json:"is_system"`
}

// RevisionData is the revision block of a page change event.
type RevisionData struct {
	RevID       int64     `json:"rev_id"`
	RevParentID int64     `json:"rev_parent_id"`
	RevDT       time.Time `json:"rev_dt"`
	RevSize     int64     `json:"rev_size"`
	RevSHA1     string    `json:"rev_sha1"`
	Editor      Editor    `json:"editor"`
}

// ChangeEvent is the subset of a mediawiki.page_change.v1 event the
// intake filter needs.
type ChangeEvent struct {
	Kind string `json:"page_change_kind"`
	Meta struct {
		Domain string    `json:"domain"`
		URI    string    `json:"uri"`
		DT     time.Time `json:"dt"`
	} `json:"meta"`
	Page struct {
		PageID      int64  `json:"page_id"`
		PageTitle   string `json:"page_title"`
		NamespaceID int    `json:"namespace_id"`
	} `json:"page"`
	Revision   RevisionData `json:"revision"`
	PriorState struct {
		Revision struct {
			RevID   int64  `json:"rev_id"`
			RevSHA1 string `json:"rev_sha1"`
		} `json:"revision"`
	} `json:"prior_state"`
}

// ParseEvent validates raw event JSON against the embedded schema and
// decodes it. Events that fail validation are reported, not dropped
// silently, so schema drift upstream surfaces in the logs.
func ParseEvent(raw []byte) (*ChangeEvent, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse change event: %w", err)
	}
	if err := pageChangeSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("change event failed schema validation: %w", err)
	}

	var event ChangeEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode change event: %w", err)
	}
	return &event, nil
}
