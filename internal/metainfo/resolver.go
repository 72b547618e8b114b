package metainfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/movie_request_server/internal/logctx"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMaxTorrentSize bounds how much of a .torrent URL is read.
	DefaultMaxTorrentSize = 10 * 1024 * 1024
	defaultTimeout        = 50 * time.Second
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used to fetch .torrent URLs. Its redirect policy is wrapped so
// a redirect to a magnet URI is still recognised.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithMaxSize bounds the size of a fetched .torrent file.
func WithMaxSize(n int64) Option {
	return func(r *Resolver) { r.maxSize = n }
}

// WithTimeout bounds a single resolution.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// Resolver turns the link a user submitted into torrent Info.
type Resolver struct {
	httpClient *http.Client
	maxSize    int64
	timeout    time.Duration
	group      singleflight.Group
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: &http.Client{},
		maxSize:    DefaultMaxTorrentSize,
		timeout:    defaultTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	client := *r.httpClient
	next := client.CheckRedirect
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if req.URL.Scheme == "magnet" {
			return http.ErrUseLastResponse
		}

		if next != nil {
			return next(req, via)
		}

		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}

		return nil
	}
	r.httpClient = &client

	return r
}

// ResolveContentHash returns the lowercase hex info hash of ref.
func (r *Resolver) ResolveContentHash(ctx context.Context, ref string) (string, error) {
	info, err := r.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}

	return info.InfoHash, nil
}

// Resolve accepts a bare info hash, a magnet URI or an http(s) URL serving a .torrent file.
// Concurrent resolutions of the same link share one fetch.
func (r *Resolver) Resolve(ctx context.Context, link string) (Info, error) {
	link = strings.TrimSpace(link)

	switch {
	case IsInfoHash(link):
		return Info{InfoHash: strings.ToLower(link)}, nil
	case strings.HasPrefix(link, "magnet:"):
		return ParseMagnet(link)
	case strings.HasPrefix(link, "http://"), strings.HasPrefix(link, "https://"):
	default:
		return Info{}, &InvalidContentError{Source: link, Reason: "unsupported link"}
	}

	// The fetch outlives a single caller so that others waiting on it are not cancelled.
	ch := r.group.DoChan(link, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		return r.fetch(fetchCtx, link)
	})

	select {
	case <-ctx.Done():
		return Info{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Info{}, res.Err
		}

		return res.Val.(Info), nil
	}
}

func (r *Resolver) fetch(ctx context.Context, link string) (Info, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", link)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return Info{}, &InvalidContentError{Source: link, Reason: "malformed URL", Err: err}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Info{}, &FetchError{URL: link, Err: err}
	}
	defer resp.Body.Close()

	if location := resp.Header.Get("Location"); isRedirect(resp.StatusCode) && strings.HasPrefix(location, "magnet:") {
		logger.DebugContext(ctx, "torrent link redirected to a magnet URI")

		return ParseMagnet(location)
	}

	if resp.StatusCode != http.StatusOK {
		return Info{}, &FetchError{URL: link, StatusCode: resp.StatusCode}
	}

	if resp.ContentLength > r.maxSize {
		return Info{}, &InvalidContentError{
			Source: link,
			Reason: fmt.Sprintf("file size %s exceeds maximum %s", humanize.IBytes(uint64(resp.ContentLength)), humanize.IBytes(uint64(r.maxSize))),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize+1))
	if err != nil {
		return Info{}, &FetchError{URL: link, Err: err}
	}

	if int64(len(data)) > r.maxSize {
		return Info{}, &InvalidContentError{
			Source: link,
			Reason: fmt.Sprintf("file exceeds maximum %s", humanize.IBytes(uint64(r.maxSize))),
		}
	}

	info, err := Parse(data)
	if err != nil {
		return Info{}, fmt.Errorf("failed to parse torrent from %s: %w", link, err)
	}

	logger.DebugContext(ctx, "resolved torrent file", "infohash", info.InfoHash, "size", humanize.IBytes(uint64(info.Size)))

	return info, nil
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}
