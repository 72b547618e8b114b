package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/movie_request_server/internal/dc"
	"github.com/italolelis/movie_request_server/internal/ledger"
	"github.com/italolelis/movie_request_server/internal/logctx"
	"github.com/italolelis/movie_request_server/internal/metainfo"
	"github.com/italolelis/movie_request_server/internal/requests"
	"github.com/italolelis/movie_request_server/internal/volume"
)

const maxRequestBody = 64 * 1024

type userKey struct{}

// RequestService is implemented by *requests.Service.
type RequestService interface {
	Submit(ctx context.Context, user ledger.User, sub requests.Submission) (ledger.Request, error)
	Cancel(ctx context.Context, user ledger.User, infoHash string) (bool, error)
	List(ctx context.Context, user ledger.User) ([]requests.Status, error)
}

// MountReporter is implemented by *volume.Selector.
type MountReporter interface {
	Usage(ctx context.Context) []volume.MountUsage
}

// IdentityHeaders names the headers set by the authenticating reverse proxy.
type IdentityHeaders struct {
	UserID   string
	Username string
}

type RequestsHandler struct {
	service  RequestService
	mounts   MountReporter
	identity IdentityHeaders
}

type submitRequest struct {
	Title string `json:"torrentTitle"`
	Link  string `json:"torrentLink"`
	Size  *int64 `json:"torrentSize"`
}

type requestResponse struct {
	InfoHash  string           `json:"infohash"`
	CreatedAt string           `json:"createdAt"`
	RefCount  int              `json:"refCount"`
	Download  *downloadSummary `json:"download,omitempty"`
}

type downloadSummary struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Progress float64   `json:"progress"`
	Size     string    `json:"size"`
	SavePath string    `json:"savePath"`
	AddedOn  time.Time `json:"addedOn"`
}

type mountResponse struct {
	ExternalID string `json:"externalId"`
	Free       string `json:"free,omitempty"`
	Total      string `json:"total,omitempty"`
	FreeBytes  uint64 `json:"freeBytes"`
	Available  bool   `json:"available"`
}

func NewRequestsHandler(service RequestService, mounts MountReporter, identity IdentityHeaders) *RequestsHandler {
	return &RequestsHandler{
		service:  service,
		mounts:   mounts,
		identity: identity,
	}
}

func (h *RequestsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.identityMiddleware)

	r.Post("/request", h.HandleSubmit)
	r.Delete("/request/{hash}", h.HandleCancel)
	r.Delete("/request/delete/{hash}", h.HandleCancel)
	r.Get("/requests", h.HandleList)
	r.Get("/mounts", h.HandleMounts)

	return r
}

// HandleSubmit records a torrent request for the calling user.
func (h *RequestsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)
	user := userFromContext(ctx)

	var body submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		logger.WarnContext(ctx, "failed to decode request", "err", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)

		return
	}

	if body.Link == "" || body.Size == nil {
		http.Error(w, "Missing required params", http.StatusBadRequest)

		return
	}

	req, err := h.service.Submit(ctx, user, requests.Submission{Title: body.Title, Link: body.Link, Size: *body.Size})
	if err != nil {
		status, message := submitErrorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(ctx, "failed to submit request", "err", err)
		}

		http.Error(w, message, status)

		return
	}

	writeJSON(ctx, w, http.StatusCreated, toResponse(req, nil))
}

// HandleCancel withdraws the calling user's request for a torrent.
func (h *RequestsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hash := chi.URLParam(r, "hash")

	if !metainfo.IsInfoHash(hash) {
		http.Error(w, "Invalid torrent hash", http.StatusBadRequest)

		return
	}

	cancelled, err := h.service.Cancel(ctx, userFromContext(ctx), hash)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to cancel request", "err", err)
		http.Error(w, "Failed to cancel request", http.StatusInternalServerError)

		return
	}

	if !cancelled {
		http.Error(w, "Request not found", http.StatusNotFound)

		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]string{"result": "Request deleted successfully"})
}

// HandleList returns the calling user's requests with their download state.
func (h *RequestsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	statuses, err := h.service.List(ctx, userFromContext(ctx))
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to list requests", "err", err)
		http.Error(w, "Failed to list requests", http.StatusInternalServerError)

		return
	}

	out := make([]requestResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, toResponse(s.Request, s.Torrent))
	}

	writeJSON(ctx, w, http.StatusOK, out)
}

// HandleMounts reports free space per mount point.
func (h *RequestsHandler) HandleMounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	usage := h.mounts.Usage(ctx)
	out := make([]mountResponse, 0, len(usage))

	for _, u := range usage {
		m := mountResponse{ExternalID: u.ExternalID, Available: u.Err == nil}
		if u.Err == nil {
			m.Free = humanize.IBytes(u.Free)
			m.Total = humanize.IBytes(u.Total)
			m.FreeBytes = u.Free
		}

		out = append(out, m)
	}

	writeJSON(ctx, w, http.StatusOK, out)
}

func (h *RequestsHandler) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := ledger.User{
			ID:       r.Header.Get(h.identity.UserID),
			Username: r.Header.Get(h.identity.Username),
		}

		if user.ID == "" {
			http.Error(w, "User not logged in", http.StatusUnauthorized)

			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, user)
		ctx = logctx.With(ctx, "user_id", user.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) ledger.User {
	user, _ := ctx.Value(userKey{}).(ledger.User)

	return user
}

func submitErrorStatus(err error) (int, string) {
	var (
		invalid  *requests.InvalidSubmissionError
		resolve  *requests.ResolveError
		capacity *requests.CapacityError
		netErr   *dc.NetworkError
		authErr  *dc.AuthenticationError
	)

	switch {
	case errors.Is(err, requests.ErrAlreadyRequested):
		return http.StatusConflict, "Torrent already requested"
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Error()
	case errors.As(err, &resolve):
		return http.StatusUnprocessableEntity, "Failed to get torrent hash"
	case errors.As(err, &capacity):
		return http.StatusInsufficientStorage, "No disk can hold the file"
	case errors.As(err, &netErr), errors.As(err, &authErr):
		return http.StatusBadGateway, "Failed to add torrent"
	default:
		return http.StatusInternalServerError, "Failed to create request"
	}
}

func toResponse(req ledger.Request, t *dc.Torrent) requestResponse {
	resp := requestResponse{
		InfoHash:  req.Torrent.InfoHash,
		CreatedAt: req.CreatedAt,
		RefCount:  req.RefCount,
	}

	if t != nil {
		resp.Download = &downloadSummary{
			Name:     t.Name,
			State:    t.State,
			Progress: t.Progress,
			Size:     humanize.IBytes(uint64(max(t.Size, 0))),
			SavePath: t.SavePath,
			AddedOn:  t.AddedOn,
		}
	}

	return resp
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}
