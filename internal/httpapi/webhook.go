package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/tca"
)

const (
	eventTypeHeader = "X-Event-Type"
	signatureHeader = "X-Signature"

	// processTimeout bounds the post-response event processing, which is
	// detached from the request context.
	processTimeout = 2 * time.Minute
)

// webhookPayload is the similarity service callback body. Submission
// completion events carry the id in "id", similarity completion events
// in "submission_id".
type webhookPayload struct {
	ID                               string `json:"id"`
	SubmissionID                     string `json:"submission_id"`
	Status                           string `json:"status"`
	ErrorCode                        string `json:"error_code"`
	TopSourceLargestMatchedWordCount int64  `json:"top_source_largest_matched_word_count"`
}

func (p webhookPayload) submissionID() string {
	if p.SubmissionID != "" {
		return p.SubmissionID
	}
	return p.ID
}

func (s *Server) handleWebhook(c echo.Context) error {
	eventType := c.Request().Header.Get(eventTypeHeader)
	if !knownEventType(eventType) {
		s.logger.Warn().Str("event_type", eventType).Msg("webhook with unknown event type")
		return c.JSON(http.StatusForbidden, map[string]any{"msg": "unknown event type"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if !s.verifySignature(c.Request().Header.Get(signatureHeader), body) {
		s.logger.Warn().Str("event_type", eventType).Msg("webhook signature mismatch")
		return c.JSON(http.StatusForbidden, map[string]any{"msg": "bad signature"})
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"msg": "malformed payload"})
	}

	// process after the response is flushed so the similarity service
	// never times out waiting on our database work
	c.Response().After(func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := s.processEvent(ctx, eventType, payload); err != nil {
			s.logger.Error().Err(err).Str("event_type", eventType).Msg("webhook processing failed")
		}
	})
	return c.JSON(http.StatusOK, map[string]any{"msg": "accepted"})
}

func knownEventType(eventType string) bool {
	for _, known := range tca.WebhookEventTypes {
		if eventType == known {
			return true
		}
	}
	return false
}

// verifySignature checks the hex HMAC-SHA256 of the raw body against
// the signature header.
func (s *Server) verifySignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// processEvent looks up the queued diff for the event and dispatches it
// to the reconciler. Events for unknown submissions or diffs that have
// already advanced past the event's stage are dropped: the polling
// sweeps deliver late outcomes, so a stale webhook is not an error.
func (s *Server) processEvent(ctx context.Context, eventType string, payload webhookPayload) error {
	sid := payload.submissionID()
	if _, err := uuid.Parse(sid); err != nil {
		s.logger.Warn().Str("submission_id", sid).Msg("webhook with invalid submission id")
		return nil
	}

	diff, err := s.store.QueuedDiffBySubmissionID(ctx, sid)
	if err != nil {
		return err
	}
	if diff == nil {
		s.logger.Debug().Str("submission_id", sid).Msg("webhook for unknown submission")
		return nil
	}

	switch eventType {
	case "SUBMISSION_COMPLETE":
		if diff.Status > db.StatusUploaded {
			s.logger.Debug().Str("submission_id", sid).Str("status", diff.Status.String()).Msg("submission event for advanced diff")
			return nil
		}
		info := &tca.SubmissionInfo{ID: sid, Status: payload.Status, ErrorCode: payload.ErrorCode}
		return s.reconciler.HandleSubmissionInfo(ctx, info, *diff)
	case "SIMILARITY_COMPLETE":
		if diff.Status > db.StatusPending {
			s.logger.Debug().Str("submission_id", sid).Str("status", diff.Status.String()).Msg("similarity event for advanced diff")
			return nil
		}
		info := &tca.ReportInfo{
			SubmissionID:                     sid,
			Status:                           payload.Status,
			TopSourceLargestMatchedWordCount: payload.TopSourceLargestMatchedWordCount,
		}
		return s.reconciler.HandleSimilarityInfo(ctx, info, *diff)
	}
	return nil
}
