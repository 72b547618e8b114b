// Package cleanup removes torrents the download client still holds but no request references.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/movie_request_server/internal/dc"
	"github.com/italolelis/movie_request_server/internal/logctx"
	"github.com/italolelis/movie_request_server/internal/telemetry"
)

// ErrNoCategory is returned by NewSweeper without a category: the sweep would otherwise treat
// every torrent in the client as its own.
var ErrNoCategory = errors.New("orphan sweep requires a download client category or label")

var errInFlight = errors.New("torrent is being submitted")

// Ledger decides, under its own lock, whether a torrent is still requested.
type Ledger interface {
	WithoutRequest(ctx context.Context, infoHash string, fn func(ctx context.Context) error) (bool, error)
}

// InFlight reports whether a submission currently holds an info hash.
type InFlight interface {
	IsPending(id string) bool
}

// Client is the part of the download client the sweep needs.
type Client interface {
	ListTorrents(ctx context.Context) ([]*dc.Torrent, error)
	RemoveTorrent(ctx context.Context, infoHash string, deleteData bool) error
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock sets the time source used to age torrents.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithTelemetry records removed orphans.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Sweeper) { s.telemetry = tel }
}

// Sweeper removes orphaned torrents of one category. A torrent younger than the grace period
// is left alone, and so is one a submission is currently adding.
type Sweeper struct {
	ledger    Ledger
	tracker   InFlight
	client    Client
	category  string
	grace     time.Duration
	now       func() time.Time
	telemetry *telemetry.Telemetry
}

func NewSweeper(l Ledger, tracker InFlight, client Client, category string, grace time.Duration, opts ...Option) (*Sweeper, error) {
	if category == "" {
		return nil, ErrNoCategory
	}

	s := &Sweeper{
		ledger:   l,
		tracker:  tracker,
		client:   client,
		category: category,
		grace:    grace,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Sweep runs one pass and returns how many torrents were removed. A failed removal is
// logged and the pass continues with the next torrent.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	torrents, err := s.client.ListTorrents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list torrents: %w", err)
	}

	now := s.now()
	removed := 0

	for _, t := range torrents {
		// The client filters by category already; this guards against one that does not.
		if t.Category != s.category {
			continue
		}

		// Clients that do not report when a torrent was added are never swept.
		if t.AddedOn.IsZero() || now.Sub(t.AddedOn) < s.grace {
			continue
		}

		logger := logger.With("infohash", t.Hash, "name", t.Name)

		// Checked under the ledger lock: Submit adds the hash to its scope before asking the
		// ledger, and keeps it there until the request is recorded.
		ran, err := s.ledger.WithoutRequest(ctx, t.Hash, func(ctx context.Context) error {
			if s.tracker.IsPending(t.Hash) {
				return errInFlight
			}

			return s.client.RemoveTorrent(ctx, t.Hash, true)
		})

		switch {
		case !ran:
			continue
		case errors.Is(err, errInFlight):
			logger.DebugContext(ctx, "skipping orphan candidate, a submission holds it")

			continue
		case err != nil:
			logger.ErrorContext(ctx, "failed to remove orphaned torrent", "err", err)
			s.telemetry.RecordOrphanRemoved("error")

			continue
		}

		logger.InfoContext(ctx, "removed orphaned torrent", "added_on", t.AddedOn)
		s.telemetry.RecordOrphanRemoved("success")

		removed++
	}

	return removed, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("orphan sweep shutting down")

			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "orphan sweep failed", "err", err)

				continue
			}

			logger.DebugContext(ctx, "orphan sweep finished", "removed", removed)
		}
	}
}
