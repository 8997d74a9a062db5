// Package intake turns candidate URLs into queue items. Candidates come from
// manual submission or from RSS/Atom feeds; both go through the same
// normalization and duplicate checks.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/textutil"
)

const (
	defaultFeedLimit = 50
	maxDescription   = 500
)

// Intake enqueues candidates.
type Intake struct {
	store  *queue.Store
	parser *gofeed.Parser
	logger *slog.Logger
}

// New constructs an Intake over the queue store.
func New(store *queue.Store, logger *slog.Logger) *Intake {
	return &Intake{
		store:  store,
		parser: gofeed.NewParser(),
		logger: logging.NewComponentLogger(logger, "intake"),
	}
}

// Candidate is one URL offered to the queue.
type Candidate struct {
	URL       string
	EntryType queue.EntryType
	Payload   queue.Payload
	Actor     string
}

// Add normalizes and enqueues one candidate. It returns
// queue.ErrDuplicateURL or queue.ErrAlreadyPublished for known content.
func (i *Intake) Add(ctx context.Context, c Candidate) (*queue.Item, error) {
	normalized, err := NormalizeURL(c.URL)
	if err != nil {
		return nil, err
	}
	if c.EntryType == "" {
		c.EntryType = queue.EntryManual
	}
	if c.Actor == "" {
		c.Actor = queue.ActorIntake
	}
	item, err := i.store.Enqueue(ctx, queue.NewItem{
		URL:           strings.TrimSpace(c.URL),
		NormalizedURL: normalized,
		EntryType:     c.EntryType,
		Payload:       c.Payload,
		Actor:         c.Actor,
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, i.logger).Info("item enqueued",
		logging.ItemID(item.ID),
		logging.String("normalized_url", normalized),
		logging.String("entry_type", string(c.EntryType)),
	)
	return item, nil
}

// DiscoverReport summarizes one feed intake.
type DiscoverReport struct {
	Feed       string
	Seen       int
	Enqueued   int
	Duplicates int
	Published  int
	Invalid    int
	ItemIDs    []int64
}

// Discover parses the feed at feedURL and enqueues up to limit entries as
// discovered items. Per-entry problems are counted, not returned.
func (i *Intake) Discover(ctx context.Context, feedURL string, limit int) (DiscoverReport, error) {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	logger := logging.WithContext(ctx, i.logger)
	feed, err := i.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return DiscoverReport{}, services.Wrap(services.ErrExternalTool, "intake", "parse feed", feedURL, err)
	}

	report := DiscoverReport{Feed: textutil.FirstNonEmpty(feed.Title, feedURL)}
	for idx, entry := range feed.Items {
		if idx >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Seen++
		item, err := i.Add(ctx, Candidate{
			URL:       entry.Link,
			EntryType: queue.EntryDiscovered,
			Payload:   payloadFromFeed(entry, report.Feed),
			Actor:     queue.ActorIntake,
		})
		switch {
		case err == nil:
			report.Enqueued++
			report.ItemIDs = append(report.ItemIDs, item.ID)
		case errors.Is(err, queue.ErrDuplicateURL):
			report.Duplicates++
		case errors.Is(err, queue.ErrAlreadyPublished):
			report.Published++
		case errors.Is(err, services.ErrValidation):
			report.Invalid++
			logger.Debug("feed entry skipped", logging.String("link", entry.Link), logging.Error(err))
		default:
			return report, fmt.Errorf("enqueue %s: %w", entry.Link, err)
		}
	}
	logger.Info("feed intake complete",
		logging.String("feed", report.Feed),
		logging.Int("seen", report.Seen),
		logging.Int("enqueued", report.Enqueued),
		logging.Int("duplicates", report.Duplicates),
		logging.Int("published", report.Published),
		logging.Int("invalid", report.Invalid),
	)
	return report, nil
}

func payloadFromFeed(entry *gofeed.Item, source string) queue.Payload {
	p := queue.Payload{
		Title:       textutil.StripHTML(entry.Title),
		Description: stage.Truncate(textutil.StripHTML(textutil.FirstNonEmpty(entry.Description, entry.Content)), maxDescription),
		Source:      source,
	}
	switch {
	case entry.PublishedParsed != nil:
		p.PublishedAt = entry.PublishedParsed.UTC().Format(time.RFC3339)
	case entry.UpdatedParsed != nil:
		p.PublishedAt = entry.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	if entry.Author != nil {
		p.Author = textutil.FirstNonEmpty(entry.Author.Name, entry.Author.Email)
	}
	if entry.Image != nil {
		p.ImageURL = entry.Image.URL
	}
	return p
}
