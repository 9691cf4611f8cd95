package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"geoverify/internal/apikey/models"
	id "geoverify/pkg/domain"
	"geoverify/pkg/platform/httputil"
	"geoverify/pkg/requestcontext"
)

// Service is the subset of the API key service the admin routes use.
type Service interface {
	Create(ctx context.Context, req models.CreateRequest) (*models.APIKey, string, error)
	List(ctx context.Context) ([]*models.APIKey, error)
	Get(ctx context.Context, keyID id.APIKeyID) (*models.APIKey, error)
	Update(ctx context.Context, keyID id.APIKeyID, req models.UpdateRequest) (*models.APIKey, error)
	Deactivate(ctx context.Context, keyID id.APIKeyID) (*models.APIKey, error)
}

// Handler serves the admin API key routes. Callers must already be
// authenticated as admins.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/api-keys", h.HandleCreate)
	r.Get("/api/api-keys", h.HandleList)
	r.Get("/api/api-keys/{keyID}", h.HandleGet)
	r.Patch("/api/api-keys/{keyID}", h.HandleUpdate)
	r.Delete("/api/api-keys/{keyID}", h.HandleDeactivate)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[CreateAPIKeyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	key, raw, err := h.service.Create(ctx, req.parsed)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create api key", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "api key issued",
		"request_id", requestID,
		"api_key_id", key.ID,
		"created_by", requestcontext.Principal(ctx).ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, CreateAPIKeyResponse{APIKeyResponse: toResponse(key), Key: raw})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := ListAPIKeysResponse{APIKeys: make([]APIKeyResponse, 0, len(keys)), Total: len(keys)}
	for _, k := range keys {
		resp.APIKeys = append(resp.APIKeys, toResponse(k))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	keyID, err := id.ParseAPIKeyID(chi.URLParam(r, "keyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	key, err := h.service.Get(r.Context(), keyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(key))
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	keyID, err := id.ParseAPIKeyID(chi.URLParam(r, "keyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateAPIKeyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	key, err := h.service.Update(ctx, keyID, req.parsed)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(key))
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID, err := id.ParseAPIKeyID(chi.URLParam(r, "keyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	key, err := h.service.Deactivate(ctx, keyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "api key deactivated",
		"request_id", requestcontext.RequestID(ctx),
		"api_key_id", key.ID,
	)
	httputil.WriteJSON(w, http.StatusOK, toResponse(key))
}
