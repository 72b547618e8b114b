package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/italolelis/movie_request_server/internal/dc"
	"github.com/italolelis/movie_request_server/internal/ledger"
	"github.com/italolelis/movie_request_server/internal/requests"
	"github.com/italolelis/movie_request_server/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bunnyHash = "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"

// mockService implements RequestService for testing.
type mockService struct {
	submitErr  error
	cancelled  bool
	cancelErr  error
	statuses   []requests.Status
	lastUser   ledger.User
	lastSubmit requests.Submission
	lastHash   string
}

func (m *mockService) Submit(_ context.Context, user ledger.User, sub requests.Submission) (ledger.Request, error) {
	m.lastUser = user
	m.lastSubmit = sub

	if m.submitErr != nil {
		return ledger.Request{}, m.submitErr
	}

	return ledger.Request{Torrent: ledger.NewTorrent(bunnyHash), CreatedAt: "2026-10-18 12:00:00", RefCount: 1}, nil
}

func (m *mockService) Cancel(_ context.Context, user ledger.User, infoHash string) (bool, error) {
	m.lastUser = user
	m.lastHash = infoHash

	return m.cancelled, m.cancelErr
}

func (m *mockService) List(_ context.Context, user ledger.User) ([]requests.Status, error) {
	m.lastUser = user

	return m.statuses, nil
}

type mockMounts []volume.MountUsage

func (m mockMounts) Usage(context.Context) []volume.MountUsage {
	return m
}

func newTestHandler(svc *mockService, mounts mockMounts) http.Handler {
	return NewRequestsHandler(svc, mounts, IdentityHeaders{UserID: "Remote-User-Id", Username: "Remote-User"}).Routes()
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Remote-User-Id", "1")
	req.Header.Set("Remote-User", "alice")

	return req
}

func TestHandleSubmit(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
	}{
		{"created", `{"torrentTitle":"Big Buck Bunny","torrentLink":"magnet:?xt=urn:btih:` + bunnyHash + `","torrentSize":1024}`, nil, http.StatusCreated},
		{"malformed body", `{"torrentLink":`, nil, http.StatusBadRequest},
		{"missing size", `{"torrentLink":"magnet:?xt=urn:btih:abc"}`, nil, http.StatusBadRequest},
		{"missing link", `{"torrentSize":10}`, nil, http.StatusBadRequest},
		{"invalid", `{"torrentLink":"x","torrentSize":0}`, &requests.InvalidSubmissionError{Field: "torrentSize", Reason: "must be positive"}, http.StatusBadRequest},
		{"already requested", `{"torrentLink":"x","torrentSize":1}`, requests.ErrAlreadyRequested, http.StatusConflict},
		{"unresolvable", `{"torrentLink":"x","torrentSize":1}`, &requests.ResolveError{Link: "x", Err: errors.New("junk")}, http.StatusUnprocessableEntity},
		{"no capacity", `{"torrentLink":"x","torrentSize":1}`, &requests.CapacityError{Required: 1}, http.StatusInsufficientStorage},
		{"client failure", `{"torrentLink":"x","torrentSize":1}`, fmt.Errorf("add: %w", &dc.NetworkError{Operation: "add_torrent"}), http.StatusBadGateway},
		{"unexpected", `{"torrentLink":"x","torrentSize":1}`, errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{submitErr: tt.submitErr}

			rec := httptest.NewRecorder()
			newTestHandler(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/request", strings.NewReader(tt.body))))

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleSubmit_ResponseBody(t *testing.T) {
	svc := &mockService{}

	rec := httptest.NewRecorder()
	body := `{"torrentTitle":"Big Buck Bunny","torrentLink":"magnet:?xt=urn:btih:` + bunnyHash + `","torrentSize":1024}`
	newTestHandler(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/request", strings.NewReader(body))))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, ledger.User{ID: "1", Username: "alice"}, svc.lastUser)
	assert.Equal(t, requests.Submission{Title: "Big Buck Bunny", Link: "magnet:?xt=urn:btih:" + bunnyHash, Size: 1024}, svc.lastSubmit)

	var got requestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, bunnyHash, got.InfoHash)
	assert.Equal(t, 1, got.RefCount)
	assert.Nil(t, got.Download)
}

func TestIdentityRequired(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler(&mockService{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCancel(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		cancelled  bool
		cancelErr  error
		wantStatus int
	}{
		{"cancelled", "/request/" + bunnyHash, true, nil, http.StatusOK},
		{"legacy path", "/request/delete/" + bunnyHash, true, nil, http.StatusOK},
		{"not held", "/request/" + bunnyHash, false, nil, http.StatusNotFound},
		{"not a hash", "/request/abc", false, nil, http.StatusBadRequest},
		{"failure", "/request/" + bunnyHash, false, errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{cancelled: tt.cancelled, cancelErr: tt.cancelErr}

			rec := httptest.NewRecorder()
			newTestHandler(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodDelete, tt.path, nil)))

			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus != http.StatusBadRequest {
				assert.Equal(t, bunnyHash, svc.lastHash)
			}
		})
	}
}

func TestHandleList(t *testing.T) {
	svc := &mockService{statuses: []requests.Status{
		{
			Request: ledger.Request{Torrent: ledger.NewTorrent(bunnyHash), CreatedAt: "2026-10-18 12:00:00", RefCount: 2},
			Torrent: &dc.Torrent{Hash: bunnyHash, Name: "Big Buck Bunny", State: "downloading", Progress: 0.5, Size: 1 << 30, SavePath: "/downloads/disk1"},
		},
		{
			Request: ledger.Request{Torrent: ledger.NewTorrent("08ada5a7a6183aae1e09d831df6748d566095a10"), CreatedAt: "2026-10-18 12:05:00", RefCount: 1},
		},
	}}

	rec := httptest.NewRecorder()
	newTestHandler(svc, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/requests", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []requestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)

	require.NotNil(t, got[0].Download)
	assert.Equal(t, "1.0 GiB", got[0].Download.Size)
	assert.Equal(t, "downloading", got[0].Download.State)
	assert.Equal(t, 2, got[0].RefCount)
	assert.Nil(t, got[1].Download)
}

func TestHandleList_Empty(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler(&mockService{}, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/requests", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleMounts(t *testing.T) {
	mounts := mockMounts{
		{MountPoint: volume.MountPoint{ExternalID: "/downloads/disk1"}, Usage: volume.Usage{Free: 1 << 30, Total: 4 << 30}},
		{MountPoint: volume.MountPoint{ExternalID: "/downloads/disk2"}, Err: errors.New("stale NFS handle")},
	}

	rec := httptest.NewRecorder()
	newTestHandler(&mockService{}, mounts).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/mounts", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []mountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)

	assert.Equal(t, mountResponse{ExternalID: "/downloads/disk1", Free: "1.0 GiB", Total: "4.0 GiB", FreeBytes: 1 << 30, Available: true}, got[0])
	assert.Equal(t, mountResponse{ExternalID: "/downloads/disk2"}, got[1])
}

type fixedStats struct{}

func (fixedStats) Stats() (int, int) { return 3, 2 }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(fixedStats{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","requests":3,"users":2}`, rec.Body.String())
}
