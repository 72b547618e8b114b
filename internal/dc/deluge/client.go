// Package deluge talks to the Deluge Web UI JSON-RPC API.
package deluge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/movie_request_server/internal/dc"
	"github.com/italolelis/movie_request_server/internal/logctx"
)

const sessionCookie = "_session_id"

var statusFields = []string{"hash", "name", "state", "save_path", "progress", "total_size", "time_added", "label"}

// Ensure Client implements dc.Client
var _ dc.Client = (*Client)(nil)

type Client struct {
	BaseURL  string
	APIPath  string
	Password string
	Label    string

	httpClient *http.Client
	requestID  atomic.Int64

	mu     sync.RWMutex
	cookie string
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type torrentStatus struct {
	Hash      string  `json:"hash"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	SavePath  string  `json:"save_path"`
	Progress  float64 `json:"progress"`
	TotalSize int64   `json:"total_size"`
	TimeAdded float64 `json:"time_added"`
	Label     string  `json:"label"`
}

func (s torrentStatus) toTorrent(id string) *dc.Torrent {
	hash := s.Hash
	if hash == "" {
		hash = id
	}

	t := &dc.Torrent{
		Hash:     strings.ToLower(hash),
		Name:     s.Name,
		State:    s.State,
		SavePath: s.SavePath,
		Category: s.Label,
		Progress: s.Progress / 100,
		Size:     s.TotalSize,
	}

	if s.TimeAdded > 0 {
		t.AddedOn = time.Unix(int64(s.TimeAdded), 0)
	}

	return t
}

func NewClient(baseURL, apiPath, password, label string, insecure bool) *Client {
	client := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIPath:    apiPath,
		Password:   password,
		Label:      label,
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
	logger := logctx.LoggerFromContext(ctx).With("method", "auth.login")

	var ok bool
	if err := c.call(ctx, "auth.login", []any{c.Password}, &ok); err != nil {
		logger.ErrorContext(ctx, "login request failed", "err", err)

		return &dc.AuthenticationError{Operation: "auth.login", Err: err}
	}

	if !ok {
		return &dc.AuthenticationError{Operation: "auth.login", Err: fmt.Errorf("deluge rejected the password")}
	}

	logger.DebugContext(ctx, "authenticated with deluge")

	return nil
}

func (c *Client) AddTorrent(ctx context.Context, add dc.AddRequest) error {
	logger := logctx.LoggerFromContext(ctx).With("infohash", add.InfoHash)

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

	link := add.Link
	if link == "" || (!strings.HasPrefix(link, "magnet:") && !strings.Contains(link, "://")) {
		link = "magnet:?xt=urn:btih:" + add.InfoHash
	}

	method := "core.add_torrent_url"
	if strings.HasPrefix(link, "magnet:") {
		method = "core.add_torrent_magnet"
	}

	options := map[string]any{"download_location": add.SavePath}

	var torrentID *string
	if err := c.call(ctx, method, []any{link, options}, &torrentID); err != nil {
		return err
	}

	id := add.InfoHash
	if torrentID != nil {
		id = *torrentID
	}

	if c.Label != "" && id != "" {
		if err := c.call(ctx, "label.set_torrent", []any{id, c.Label}, nil); err != nil {
			logger.WarnContext(ctx, "failed to label torrent", "label", c.Label, "err", err)
		}
	}

	logger.InfoContext(ctx, "torrent added", "method", method, "save_path", add.SavePath)

	return nil
}

func (c *Client) RemoveTorrent(ctx context.Context, infoHash string, deleteData bool) error {
	var removed bool
	if err := c.call(ctx, "core.remove_torrent", []any{infoHash, deleteData}, &removed); err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "torrent removed",
		"infohash", infoHash,
		"delete_data", deleteData,
		"removed", removed,
	)

	return nil
}

func (c *Client) GetTorrents(ctx context.Context, hashes []string) ([]*dc.Torrent, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	return c.torrentsStatus(ctx, map[string]any{"id": hashes})
}

func (c *Client) ListTorrents(ctx context.Context) ([]*dc.Torrent, error) {
	filter := map[string]any{}
	if c.Label != "" {
		filter["label"] = c.Label
	}

	return c.torrentsStatus(ctx, filter)
}

func (c *Client) torrentsStatus(ctx context.Context, filter map[string]any) ([]*dc.Torrent, error) {
	var result map[string]torrentStatus
	if err := c.call(ctx, "core.get_torrents_status", []any{filter, statusFields}, &result); err != nil {
		return nil, err
	}

	torrents := make([]*dc.Torrent, 0, len(result))
	for id, status := range result {
		torrents = append(torrents, status.toTorrent(id))
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "fetched torrents", "method", "core.get_torrents_status", "count", len(torrents))

	return torrents, nil
}

// call performs one JSON-RPC request and decodes its result into out, which may be nil.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	payload := map[string]any{
		"id":     c.requestID.Add(1),
		"method": method,
		"params": params,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.APIPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.cookie})
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &dc.NetworkError{Operation: method, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)

		return &dc.NetworkError{Operation: method, StatusCode: resp.StatusCode, APIMessage: strings.TrimSpace(string(b))}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			c.mu.Lock()
			c.cookie = cookie.Value
			c.mu.Unlock()
		}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &dc.NetworkError{Operation: method, APIMessage: "malformed response", Err: err}
	}

	if rpcResp.Error != nil {
		if rpcResp.Error.Code == 1 {
			return &dc.AuthenticationError{Operation: method, Err: fmt.Errorf("%s", rpcResp.Error.Message)}
		}

		return &dc.NetworkError{Operation: method, APIMessage: rpcResp.Error.Message}
	}

	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}

	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return &dc.NetworkError{Operation: method, APIMessage: "unexpected result", Err: err}
	}

	return nil
}
