package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/config"
)

const (
	reconnectDelay = 3 * time.Second

	// large enough for any single event line on the stream
	maxLineBytes = 1 << 20
)

// Handler receives each accepted change event.
type Handler func(ctx context.Context, event *ChangeEvent) error

// ListenOptions bounds one listening run.
type ListenOptions struct {
	// Since resumes the stream from a historical offset. Zero tails live.
	Since time.Time
	// Total stops after that many accepted events. Zero runs until the
	// context is canceled.
	Total int
}

// Listener tails the server-sent events stream, validates and filters
// each event, and hands accepted events to the caller. Dropped
// connections resume from the last delivered event's timestamp.
type Listener struct {
	httpClient *http.Client
	url        string
	filter     *Filter
	logger     zerolog.Logger
}

func NewListener(cfg *config.Config, filter *Filter, logger zerolog.Logger) *Listener {
	return &Listener{
		// no client timeout: the stream connection is long-lived
		httpClient: &http.Client{},
		url:        cfg.StreamURL,
		filter:     filter,
		logger:     logger,
	}
}

// Listen consumes the stream until the context is canceled or the
// requested total is reached. Handler errors are logged and do not stop
// the stream.
func (l *Listener) Listen(ctx context.Context, opts ListenOptions, handle Handler) error {
	since := opts.Since
	accepted := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := l.consume(ctx, since, func(ctx context.Context, event *ChangeEvent) (bool, error) {
			since = event.Meta.DT
			if !l.filter.Accept(ctx, event) {
				return false, nil
			}
			if err := handle(ctx, event); err != nil {
				l.logger.Warn().Err(err).
					Str("domain", event.Meta.Domain).
					Int64("rev_id", event.Revision.RevID).
					Msg("change event handler failed")
				return false, nil
			}
			accepted++
			return opts.Total > 0 && accepted >= opts.Total, nil
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.logger.Warn().Err(err).Dur("delay", reconnectDelay).Msg("stream disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// consume reads one stream connection. The callback returns done=true to
// stop cleanly; any transport error is returned for the reconnect loop.
func (l *Listener) consume(ctx context.Context, since time.Time, deliver func(context.Context, *ChangeEvent) (bool, error)) error {
	endpoint, err := l.buildURL(since)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}
	l.logger.Info().Str("url", l.url).Time("since", since).Msg("stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			payload := data.String()
			data.Reset()

			event, err := ParseEvent([]byte(payload))
			if err != nil {
				l.logger.Warn().Err(err).Msg("skipping malformed change event")
				continue
			}
			done, err := deliver(ctx, event)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}

func (l *Listener) buildURL(since time.Time) (string, error) {
	parsed, err := url.Parse(l.url)
	if err != nil {
		return "", fmt.Errorf("parse stream url %q: %w", l.url, err)
	}
	if !since.IsZero() {
		query := parsed.Query()
		query.Set("since", since.UTC().Format(time.RFC3339))
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}
