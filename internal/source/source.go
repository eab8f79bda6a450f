// Package source retrieves raw ticket content from a ticket system.
//
// A Source knows how to fetch a ticket by identifier and how to search for
// one. Reader wraps a Source with the retrieval contract: a direct fetch,
// then exactly one search-based retry, then a RetrievalFailure. It never
// returns partial content.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/logging"
)

// RawContent is a ticket as the ticket system returned it: prose plus
// structured properties.
type RawContent struct {
	// ID is the ticket's identifier in its source system.
	ID string
	// Source names the backend that produced the content ("jira", "github", ...).
	Source string
	// URL links back to the ticket, when the source provides one.
	URL string
	// Text is the free-text body, already converted to Markdown where needed.
	Text string
	// Properties holds structured key/value fields (summary, platform, reporter, ...).
	Properties map[string]string
	// Attachments lists image attachment URIs in source order.
	Attachments []string
	// Created is the ticket creation time, when known.
	Created *time.Time
	// FetchedAt is stamped by Reader when the content arrives.
	FetchedAt time.Time
}

// Source is a ticket system backend.
type Source interface {
	// Name identifies the backend.
	Name() string
	// Fetch retrieves a ticket by identifier.
	Fetch(ctx context.Context, id Identifier) (*RawContent, error)
	// Search finds the best matching ticket for a free-text query.
	Search(ctx context.Context, query string) (*RawContent, error)
}

// ErrNotFound is returned by sources when nothing matches.
var ErrNotFound = errors.New("ticket not found")

// Reader applies the fetch-then-search retrieval contract.
type Reader struct {
	src    Source
	clock  func() time.Time
	logger *logging.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithClock overrides the clock used to stamp FetchedAt.
func WithClock(clock func() time.Time) ReaderOption {
	return func(r *Reader) { r.clock = clock }
}

// WithLogger sets the reader's logger.
func WithLogger(l *logging.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// NewReader creates a Reader over src.
func NewReader(src Source, opts ...ReaderOption) *Reader {
	r := &Reader{
		src:    src,
		clock:  time.Now,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read retrieves the ticket named by identifier. On fetch failure it
// retries once with a search for the parsed key. If both fail the error is
// a *errors.TriageError with code RETRIEVAL_FAILED wrapping both causes.
func (r *Reader) Read(ctx context.Context, identifier string) (*RawContent, error) {
	id := ParseIdentifier(identifier)
	if id.Key == "" {
		return nil, triageerrors.ErrRetrievalFailed(identifier).WithCause(fmt.Errorf("empty ticket identifier"))
	}

	raw, fetchErr := r.src.Fetch(ctx, id)
	if fetchErr == nil && raw == nil {
		fetchErr = ErrNotFound
	}
	if fetchErr == nil {
		r.logger.Debug().Str("source", r.src.Name()).Str("id", id.Key).Msg("ticket fetched")
		return r.stamp(raw, id), nil
	}

	r.logger.Warn().Err(fetchErr).Str("source", r.src.Name()).Str("id", id.Key).
		Msg("fetch failed, falling back to search")

	raw, searchErr := r.src.Search(ctx, id.Key)
	if searchErr == nil && raw == nil {
		searchErr = ErrNotFound
	}
	if searchErr == nil {
		r.logger.Info().Str("source", r.src.Name()).Str("id", id.Key).Str("found", raw.ID).
			Msg("ticket found by search")
		return r.stamp(raw, id), nil
	}

	return nil, triageerrors.ErrRetrievalFailed(id.Key).WithCause(errors.Join(
		fmt.Errorf("fetch: %w", fetchErr),
		fmt.Errorf("search: %w", searchErr),
	))
}

func (r *Reader) stamp(raw *RawContent, id Identifier) *RawContent {
	if raw.ID == "" {
		raw.ID = id.Key
	}
	if raw.Source == "" {
		raw.Source = r.src.Name()
	}
	if raw.Properties == nil {
		raw.Properties = map[string]string{}
	}
	raw.FetchedAt = r.clock().UTC()
	return raw
}
