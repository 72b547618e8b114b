// Package requests sequences a user's torrent request through the in-flight tracker, the
// identity resolver, the ledger, the storage selector and the download client.
package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/movie_request_server/internal/dc"
	"github.com/italolelis/movie_request_server/internal/inflight"
	"github.com/italolelis/movie_request_server/internal/ledger"
	"github.com/italolelis/movie_request_server/internal/logctx"
	"github.com/italolelis/movie_request_server/internal/telemetry"
)

const titleKeyPrefix = "title:"

// Ledger is the subset of *ledger.Ledger used by the service.
type Ledger interface {
	HasRequest(ctx context.Context, user ledger.User, torrent ledger.Torrent) bool
	MakeRequest(ctx context.Context, user ledger.User, torrent ledger.Torrent) (ledger.Request, error)
	CancelRequest(ctx context.Context, user ledger.User, torrent ledger.Torrent) (bool, error)
	GetRequests(ctx context.Context, user ledger.User) ([]ledger.Request, error)
}

// Resolver derives a torrent's info hash from the link a user submitted.
type Resolver interface {
	ResolveContentHash(ctx context.Context, ref string) (string, error)
}

// Selector picks the mount point a download is saved to.
type Selector interface {
	SelectTarget(ctx context.Context, requiredBytes uint64) (string, bool)
}

// DownloadClient is the subset of dc.Client used by the service.
type DownloadClient interface {
	AddTorrent(ctx context.Context, req dc.AddRequest) error
	GetTorrents(ctx context.Context, hashes []string) ([]*dc.Torrent, error)
}

// Submission is a user's request for a torrent.
type Submission struct {
	Title string
	Link  string
	Size  int64
}

// Status is a ledger request joined with what the download client reports. Torrent is nil
// when the client does not know the torrent or could not be queried.
type Status struct {
	Request ledger.Request
	Torrent *dc.Torrent
}

// Option configures a Service.
type Option func(*Service)

// WithTelemetry records submission and cancellation outcomes.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Service) { s.telemetry = tel }
}

type Service struct {
	ledger    Ledger
	tracker   *inflight.Registry
	resolver  Resolver
	selector  Selector
	client    DownloadClient
	telemetry *telemetry.Telemetry
}

func NewService(l Ledger, tracker *inflight.Registry, resolver Resolver, selector Selector, client DownloadClient, opts ...Option) *Service {
	s := &Service{
		ledger:   l,
		tracker:  tracker,
		resolver: resolver,
		selector: selector,
		client:   client,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Submit records user's request for a torrent and hands it to the download client.
func (s *Service) Submit(ctx context.Context, user ledger.User, sub Submission) (ledger.Request, error) {
	req, err := s.submit(ctx, user, sub)

	s.telemetry.RecordSubmission(submissionResult(err))

	return req, err
}

func (s *Service) submit(ctx context.Context, user ledger.User, sub Submission) (ledger.Request, error) {
	sub.Title = strings.TrimSpace(sub.Title)
	sub.Link = strings.TrimSpace(sub.Link)

	if err := validate(sub); err != nil {
		return ledger.Request{}, err
	}

	ctx = logctx.With(ctx, "user_id", user.ID, "username", user.Username)
	logger := logctx.LoggerFromContext(ctx)

	var result ledger.Request

	err := s.tracker.Do(user.ID, func(scope *inflight.Scope) error {
		// The title is known before resolution, which can take long, so a double submit
		// fails fast on it.
		if sub.Title != "" {
			if !scope.Add(titleKeyPrefix + sub.Title) {
				logger.WarnContext(ctx, "torrent is already being submitted", "title", sub.Title)

				return ErrAlreadyRequested
			}

			defer scope.Remove(titleKeyPrefix + sub.Title)
		}

		hash, err := s.resolver.ResolveContentHash(ctx, sub.Link)
		if err != nil {
			return &ResolveError{Link: sub.Link, Err: err}
		}

		torrent := ledger.NewTorrent(hash)
		logger := logger.With("infohash", torrent.InfoHash)

		if !scope.Add(torrent.InfoHash) {
			logger.WarnContext(ctx, "torrent is already being submitted under another title", "title", sub.Title)

			return ErrAlreadyRequested
		}

		defer scope.Remove(torrent.InfoHash)

		if s.ledger.HasRequest(ctx, user, torrent) {
			logger.WarnContext(ctx, "user already has a request for torrent")

			return ErrAlreadyRequested
		}

		target, ok := s.selector.SelectTarget(ctx, uint64(sub.Size))
		if !ok {
			return &CapacityError{Required: uint64(sub.Size)}
		}

		if err := s.client.AddTorrent(ctx, dc.AddRequest{InfoHash: torrent.InfoHash, Link: sub.Link, SavePath: target}); err != nil {
			return fmt.Errorf("failed to add torrent to download client: %w", err)
		}

		result, err = s.ledger.MakeRequest(ctx, user, torrent)
		if err != nil {
			// The torrent stays in the client until the orphan sweep removes it.
			logger.ErrorContext(ctx, "torrent added but the request could not be recorded", "err", err)

			return err
		}

		logger.InfoContext(ctx, "torrent requested",
			"title", sub.Title,
			"size", humanize.IBytes(uint64(sub.Size)),
			"save_path", target,
			"ref_count", result.RefCount,
		)

		return nil
	})
	if err != nil {
		return ledger.Request{}, err
	}

	return result, nil
}

// Cancel withdraws user's request for the torrent identified by infoHash. It returns false
// when the user does not hold it.
func (s *Service) Cancel(ctx context.Context, user ledger.User, infoHash string) (bool, error) {
	ctx = logctx.With(ctx, "user_id", user.ID, "username", user.Username)

	cancelled, err := s.ledger.CancelRequest(ctx, user, ledger.NewTorrent(infoHash))

	switch {
	case err != nil:
		s.telemetry.RecordCancellation("error")
	case !cancelled:
		s.telemetry.RecordCancellation("not_found")
	default:
		s.telemetry.RecordCancellation("cancelled")
	}

	return cancelled, err
}

// List returns user's requests in the order they were made, with the download client's state
// where available. A failing client degrades to ledger data only.
func (s *Service) List(ctx context.Context, user ledger.User) ([]Status, error) {
	logger := logctx.LoggerFromContext(ctx).With("user_id", user.ID)

	reqs, err := s.ledger.GetRequests(ctx, user)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, len(reqs))
	if len(reqs) == 0 {
		return statuses, nil
	}

	hashes := make([]string, len(reqs))
	for i, r := range reqs {
		statuses[i].Request = r
		hashes[i] = r.Torrent.InfoHash
	}

	torrents, err := s.client.GetTorrents(ctx, hashes)
	if err != nil {
		logger.WarnContext(ctx, "failed to fetch torrent state from download client", "err", err)

		return statuses, nil
	}

	byHash := make(map[string]*dc.Torrent, len(torrents))
	for _, t := range torrents {
		byHash[strings.ToLower(t.Hash)] = t
	}

	for i := range statuses {
		statuses[i].Torrent = byHash[statuses[i].Request.Torrent.InfoHash]
	}

	return statuses, nil
}

func validate(sub Submission) error {
	if sub.Link == "" {
		return &InvalidSubmissionError{Field: "torrentLink", Reason: "is required"}
	}

	if sub.Size <= 0 {
		return &InvalidSubmissionError{Field: "torrentSize", Reason: "must be positive"}
	}

	return nil
}

func submissionResult(err error) string {
	var (
		invalid  *InvalidSubmissionError
		resolve  *ResolveError
		capacity *CapacityError
		netErr   *dc.NetworkError
		authErr  *dc.AuthenticationError
	)

	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrAlreadyRequested):
		return "already_requested"
	case errors.As(err, &invalid):
		return "invalid"
	case errors.As(err, &resolve):
		return "resolve_failed"
	case errors.As(err, &capacity):
		return "no_capacity"
	case errors.As(err, &netErr), errors.As(err, &authErr):
		return "client_error"
	default:
		return "error"
	}
}
