// Package qbittorrent talks to the qBittorrent Web API v2.
package qbittorrent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/movie_request_server/internal/dc"
	"github.com/italolelis/movie_request_server/internal/logctx"
)

const (
	apiPath       = "/api/v2"
	sessionCookie = "SID"
)

var errSessionExpired = errors.New("qbittorrent session expired")

// Ensure Client implements dc.Client
var _ dc.Client = (*Client)(nil)

type Client struct {
	BaseURL  string
	Username string
	Password string
	Category string

	httpClient *http.Client

	mu  sync.RWMutex
	sid string
}

type torrentInfo struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	State    string  `json:"state"`
	SavePath string  `json:"save_path"`
	Progress float64 `json:"progress"`
	Size     int64   `json:"total_size"`
	AddedOn  int64   `json:"added_on"`
	Category string  `json:"category"`
}

func (t torrentInfo) toTorrent() *dc.Torrent {
	torrent := &dc.Torrent{
		Hash:     strings.ToLower(t.Hash),
		Name:     t.Name,
		State:    t.State,
		SavePath: t.SavePath,
		Category: t.Category,
		Progress: t.Progress,
		Size:     t.Size,
	}

	if t.AddedOn > 0 {
		torrent.AddedOn = time.Unix(t.AddedOn, 0)
	}

	return torrent
}

func NewClient(baseURL, username, password, category string, insecure bool) *Client {
	client := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Username:   username,
		Password:   password,
		Category:   category,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	if insecure {
		client.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "auth/login")

	form := url.Values{"username": {c.Username}, "password": {c.Password}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// qBittorrent rejects logins whose Referer does not match its host when CSRF protection is on.
	req.Header.Set("Referer", c.BaseURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &dc.NetworkError{Operation: "login", APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return &dc.AuthenticationError{Operation: "login", Err: errors.New("client IP is banned for too many failed logins")}
	case resp.StatusCode != http.StatusOK:
		return &dc.NetworkError{Operation: "login", StatusCode: resp.StatusCode, APIMessage: string(body)}
	case strings.TrimSpace(string(body)) != "Ok.":
		return &dc.AuthenticationError{Operation: "login", Err: fmt.Errorf("unexpected response %q", body)}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			c.mu.Lock()
			c.sid = cookie.Value
			c.mu.Unlock()
		}
	}

	logger.DebugContext(ctx, "authenticated with qbittorrent")

	return nil
}

func (c *Client) AddTorrent(ctx context.Context, add dc.AddRequest) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrents/add", "infohash", add.InfoHash)

	if add.InfoHash != "" {
		existing, err := c.GetTorrents(ctx, []string{add.InfoHash})
		if err != nil {
			return err
		}

		if len(existing) > 0 {
			logger.InfoContext(ctx, "torrent already added", "save_path", existing[0].SavePath)

			return nil
		}
	}

	body, err := c.call(ctx, "add_torrent", func() (*http.Request, error) {
		var buf bytes.Buffer

		w := multipart.NewWriter(&buf)

		fields := map[string]string{"urls": add.Link, "savepath": add.SavePath}
		if c.Category != "" {
			fields["category"] = c.Category
		}

		for k, v := range fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}

		if err := w.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/torrents/add"), &buf)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", w.FormDataContentType())

		return req, nil
	})
	if err != nil {
		return err
	}

	if strings.Contains(strings.ToLower(string(body)), "fail") {
		// qBittorrent answers "Fails." for duplicates too; a concurrent add of the same torrent is not an error.
		if add.InfoHash != "" {
			if existing, lookupErr := c.GetTorrents(ctx, []string{add.InfoHash}); lookupErr == nil && len(existing) > 0 {
				return nil
			}
		}

		return &dc.NetworkError{Operation: "add_torrent", StatusCode: http.StatusOK, APIMessage: string(body)}
	}

	logger.InfoContext(ctx, "torrent added", "save_path", add.SavePath, "category", c.Category)

	return nil
}

func (c *Client) RemoveTorrent(ctx context.Context, infoHash string, deleteData bool) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrents/delete", "infohash", infoHash)

	form := url.Values{
		"hashes":      {infoHash},
		"deleteFiles": {fmt.Sprintf("%t", deleteData)},
	}

	_, err := c.call(ctx, "remove_torrent", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/torrents/delete"), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		return req, nil
	})
	if err != nil {
		return err
	}

	logger.DebugContext(ctx, "torrent removed", "delete_data", deleteData)

	return nil
}

func (c *Client) GetTorrents(ctx context.Context, hashes []string) ([]*dc.Torrent, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	return c.torrentsInfo(ctx, "get_torrents", url.Values{"hashes": {strings.Join(hashes, "|")}})
}

func (c *Client) ListTorrents(ctx context.Context) ([]*dc.Torrent, error) {
	params := url.Values{"filter": {"all"}}
	if c.Category != "" {
		params.Set("category", c.Category)
	}

	return c.torrentsInfo(ctx, "list_torrents", params)
}

func (c *Client) torrentsInfo(ctx context.Context, operation string, params url.Values) ([]*dc.Torrent, error) {
	body, err := c.call(ctx, operation, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/torrents/info")+"?"+params.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}

	var infos []torrentInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, &dc.NetworkError{Operation: operation, APIMessage: "malformed torrent list", Err: err}
	}

	torrents := make([]*dc.Torrent, 0, len(infos))
	for _, info := range infos {
		torrents = append(torrents, info.toTorrent())
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "fetched torrents", "operation", operation, "count", len(torrents))

	return torrents, nil
}

// call sends the request built by newReq. A 403 means the session expired: the client logs in
// again and retries once.
func (c *Client) call(ctx context.Context, operation string, newReq func() (*http.Request, error)) ([]byte, error) {
	body, err := c.send(operation, newReq)
	if !errors.Is(err, errSessionExpired) {
		return body, err
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "qbittorrent session expired, logging in again", "operation", operation)

	if err := c.Authenticate(ctx); err != nil {
		return nil, &dc.AuthenticationError{Operation: operation, Err: err}
	}

	body, err = c.send(operation, newReq)
	if errors.Is(err, errSessionExpired) {
		return nil, &dc.AuthenticationError{Operation: operation, Err: err}
	}

	return body, err
}

func (c *Client) send(operation string, newReq func() (*http.Request, error)) ([]byte, error) {
	req, err := newReq()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", operation, err)
	}

	c.mu.RLock()
	if c.sid != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.sid})
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &dc.NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &dc.NetworkError{Operation: operation, APIMessage: "failed to read response", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusForbidden:
		return nil, errSessionExpired
	default:
		return nil, &dc.NetworkError{Operation: operation, StatusCode: resp.StatusCode, APIMessage: strings.TrimSpace(string(body))}
	}
}

func (c *Client) endpoint(path string) string {
	return c.BaseURL + apiPath + path
}
