// Package ledger records which torrents each user requested. A torrent shared by several
// users is reference counted and only physically removed when its last requester cancels.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/italolelis/movie_request_server/internal/logctx"
	"github.com/italolelis/movie_request_server/internal/storage"
)

const defaultRemoveTimeout = 30 * time.Second

var (
	// ErrInvariantViolation signals corrupted ledger state. It is never returned for valid input.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrUnsupportedVersion is returned when the stored document was written by a newer schema.
	ErrUnsupportedVersion = errors.New("unsupported ledger version")
)

// ContentRemover physically removes a torrent and its downloaded data.
type ContentRemover interface {
	RemoveContent(ctx context.Context, infoHash string) error
}

// RemoverFunc adapts a function to ContentRemover.
type RemoverFunc func(ctx context.Context, infoHash string) error

func (f RemoverFunc) RemoveContent(ctx context.Context, infoHash string) error {
	return f(ctx, infoHash)
}

// ViolationHandler is called when an invariant does not hold.
type ViolationHandler func(ctx context.Context, err error)

// ExitOnViolation logs the violation and stops the process.
func ExitOnViolation(ctx context.Context, err error) {
	logctx.LoggerFromContext(ctx).ErrorContext(ctx, "ledger invariant violated, stopping", "err", err)
	os.Exit(1)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithViolationHandler replaces ExitOnViolation.
func WithViolationHandler(h ViolationHandler) Option {
	return func(l *Ledger) { l.onViolation = h }
}

// WithClock sets the time source for Request.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRemoveTimeout bounds how long a content removal may take.
func WithRemoveTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.removeTimeout = d }
}

// Ledger is the sole writer of the persisted request state. Mutations hold an exclusive lock
// across read-modify-write-persist; reads share it.
type Ledger struct {
	mu      sync.RWMutex
	state   *state
	backend storage.Backend
	remover ContentRemover

	onViolation   ViolationHandler
	now           func() time.Time
	removeTimeout time.Duration
}

// Open loads the ledger from backend, starting empty if nothing is stored yet.
func Open(ctx context.Context, backend storage.Backend, remover ContentRemover, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		backend:       backend,
		remover:       remover,
		onViolation:   ExitOnViolation,
		now:           time.Now,
		removeTimeout: defaultRemoveTimeout,
	}

	for _, opt := range opts {
		opt(l)
	}

	data, err := backend.Load(ctx)

	switch {
	case errors.Is(err, storage.ErrNotFound):
		l.state = emptyState()

		return l, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, err
	}

	l.state, err = newState(doc)
	if err != nil {
		return nil, err
	}

	return l, nil
}

// Connect makes sure the backing store exists. Safe to call more than once.
func (l *Ledger) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.persist(ctx)
}

// Close flushes the ledger. Safe to call more than once.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.persist(ctx)
}

// HasRequest reports whether user holds torrent.
func (l *Ledger) HasRequest(_ context.Context, user User, torrent Torrent) bool {
	torrent = NewTorrent(torrent.InfoHash)

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.state.holds(user, torrent)
}

// FindByHash returns the request for an info hash.
func (l *Ledger) FindByHash(infoHash string) (Request, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	req, ok := l.state.requests[NewTorrent(infoHash).InfoHash]
	if !ok {
		return Request{}, false
	}

	return *req, true
}

// FindByTorrent returns the request for torrent.
func (l *Ledger) FindByTorrent(torrent Torrent) (Request, bool) {
	return l.FindByHash(torrent.InfoHash)
}

// Stats returns the number of tracked requests and of users holding at least one.
func (l *Ledger) Stats() (requests, users int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.state.requests), len(l.state.users)
}

// MakeRequest records that user wants torrent. A duplicate request is not an error: the
// existing request is returned unchanged.
func (l *Ledger) MakeRequest(ctx context.Context, user User, torrent Torrent) (Request, error) {
	torrent = NewTorrent(torrent.InfoHash)
	logger := logctx.LoggerFromContext(ctx).With("user_id", user.ID, "username", user.Username, "infohash", torrent.InfoHash)

	l.mu.Lock()
	defer l.mu.Unlock()

	req, exists := l.state.requests[torrent.InfoHash]

	if l.state.holds(user, torrent) {
		if !exists {
			return Request{}, l.violation(ctx, fmt.Errorf("%w: %s held by %s without a request", ErrInvariantViolation, torrent.InfoHash, user.ID))
		}

		logger.WarnContext(ctx, "user already has a request for torrent")

		return *req, nil
	}

	l.state.users[user] = append(l.state.users[user], torrent)

	if exists {
		req.RefCount++
	} else {
		req = &Request{
			Torrent:   torrent,
			CreatedAt: l.now().Format(createdAtLayout),
			RefCount:  1,
		}
		l.state.requests[torrent.InfoHash] = req
	}

	if err := l.persist(ctx); err != nil {
		l.removeFromUser(user, torrent)

		if exists {
			req.RefCount--
		} else {
			delete(l.state.requests, torrent.InfoHash)
		}

		return Request{}, fmt.Errorf("failed to record request: %w", err)
	}

	logger.InfoContext(ctx, "user made a request for torrent", "ref_count", req.RefCount)

	return *req, nil
}

// GetRequests returns the requests held by user in the order they were made.
func (l *Ledger) GetRequests(ctx context.Context, user User) ([]Request, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	torrents := l.state.users[user]
	requests := make([]Request, 0, len(torrents))

	for _, t := range torrents {
		req, ok := l.state.requests[t.InfoHash]
		if !ok {
			return nil, l.violation(ctx, fmt.Errorf("%w: %s held by %s without a request", ErrInvariantViolation, t.InfoHash, user.ID))
		}

		requests = append(requests, *req)
	}

	return requests, nil
}

// CancelRequest withdraws user's request for torrent. It returns false when user does not
// hold it. When the last holder cancels, the torrent is removed from the download client;
// a failed removal is logged and does not fail the cancellation.
func (l *Ledger) CancelRequest(ctx context.Context, user User, torrent Torrent) (bool, error) {
	torrent = NewTorrent(torrent.InfoHash)
	logger := logctx.LoggerFromContext(ctx).With("user_id", user.ID, "username", user.Username, "infohash", torrent.InfoHash)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.holds(user, torrent) {
		logger.WarnContext(ctx, "user does not have a request for torrent")

		return false, nil
	}

	req, ok := l.state.requests[torrent.InfoHash]
	if !ok {
		return false, l.violation(ctx, fmt.Errorf("%w: %s held by %s without a request", ErrInvariantViolation, torrent.InfoHash, user.ID))
	}

	if req.RefCount < 1 {
		return false, l.violation(ctx, fmt.Errorf("%w: ref count of %s would drop below zero", ErrInvariantViolation, torrent.InfoHash))
	}

	position := l.removeFromUser(user, torrent)

	req.RefCount--
	if req.RefCount == 0 {
		delete(l.state.requests, torrent.InfoHash)
	}

	if err := l.persist(ctx); err != nil {
		l.insertForUser(user, torrent, position)

		req.RefCount++
		l.state.requests[torrent.InfoHash] = req

		return false, fmt.Errorf("failed to cancel request: %w", err)
	}

	logger.InfoContext(ctx, "user cancelled a request for torrent", "ref_count", req.RefCount)

	if req.RefCount == 0 {
		l.removeContent(ctx, logger, torrent)
	}

	return true, nil
}

// WithoutRequest runs fn only if no request exists for infoHash, holding the ledger exclusively
// so no request for it can be recorded meanwhile. It reports whether fn ran.
func (l *Ledger) WithoutRequest(ctx context.Context, infoHash string, fn func(ctx context.Context) error) (bool, error) {
	torrent := NewTorrent(infoHash)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.state.requests[torrent.InfoHash]; ok {
		return false, nil
	}

	return true, fn(ctx)
}

// Drop discards the backing store and resets the ledger to empty.
func (l *Ledger) Drop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.backend.Drop(ctx); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to drop ledger: %w", err)
	}

	l.state = emptyState()

	logctx.LoggerFromContext(ctx).WarnContext(ctx, "ledger dropped")

	return nil
}

// removeContent runs the remover under the ledger lock so a later request for the same
// torrent cannot be overtaken by this removal. It is bounded by removeTimeout and detached
// from the caller's cancellation.
func (l *Ledger) removeContent(ctx context.Context, logger *slog.Logger, torrent Torrent) {
	if l.remover == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.removeTimeout)
	defer cancel()

	if err := l.remover.RemoveContent(ctx, torrent.InfoHash); err != nil {
		logger.ErrorContext(ctx, "failed to remove torrent content", "err", err)

		return
	}

	logger.InfoContext(ctx, "removed torrent content")
}

func (l *Ledger) persist(ctx context.Context) error {
	data, err := l.state.document().Encode()
	if err != nil {
		return err
	}

	return l.backend.Save(ctx, data)
}

func (l *Ledger) violation(ctx context.Context, err error) error {
	if l.onViolation != nil {
		l.onViolation(ctx, err)
	}

	return err
}

// removeFromUser deletes torrent from user's set and returns its former position.
func (l *Ledger) removeFromUser(user User, torrent Torrent) int {
	torrents := l.state.users[user]

	for i, t := range torrents {
		if t != torrent {
			continue
		}

		torrents = append(torrents[:i:i], torrents[i+1:]...)
		if len(torrents) == 0 {
			delete(l.state.users, user)
		} else {
			l.state.users[user] = torrents
		}

		return i
	}

	return -1
}

func (l *Ledger) insertForUser(user User, torrent Torrent, position int) {
	torrents := l.state.users[user]
	if position < 0 || position > len(torrents) {
		position = len(torrents)
	}

	restored := make([]Torrent, 0, len(torrents)+1)
	restored = append(restored, torrents[:position]...)
	restored = append(restored, torrent)
	restored = append(restored, torrents[position:]...)

	l.state.users[user] = restored
}
