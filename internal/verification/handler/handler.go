package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apikeymodels "geoverify/internal/apikey/models"
	"geoverify/internal/verification/models"
	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
	"geoverify/pkg/platform/httputil"
	"geoverify/pkg/requestcontext"
)

// Service is the verification surface the HTTP routes need.
type Service interface {
	Issue(ctx context.Context, req models.IssueRequest, issuer id.Principal) (*models.IssueResult, error)
	Validate(ctx context.Context, tokenID id.TokenID) (*models.ValidateResult, error)
	RecordConsent(ctx context.Context, tokenID id.TokenID, consented bool) (*models.Result, error)
	Decline(ctx context.Context, tokenID id.TokenID) (*models.Result, error)
	Submit(ctx context.Context, tokenID id.TokenID, sub models.Submission) (*models.Result, error)
	Revoke(ctx context.Context, tokenID id.TokenID, caller id.Principal) (*models.Token, error)
	GetResult(ctx context.Context, tokenID id.TokenID, caller id.Principal) (*models.Token, error)
	ListTokens(ctx context.Context, caller id.Principal, status models.Status, limit int) ([]*models.Token, error)
	Stats(ctx context.Context, caller id.Principal) (*models.Stats, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublic mounts the recipient-facing routes. The link token is the
// only credential.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/api/validate-token", h.HandleValidate)
	r.Post("/api/consent", h.HandleConsent)
	r.Post("/api/submit-verification", h.HandleSubmit)
	r.Post("/api/verification-declined", h.HandleDecline)
}

// PermissionGuard builds middleware that admits callers holding perm.
type PermissionGuard func(perm string) func(http.Handler) http.Handler

// RegisterIssuer mounts the authenticated routes. r must already run the
// auth middleware.
func (h *Handler) RegisterIssuer(r chi.Router, require PermissionGuard) {
	create := string(apikeymodels.PermissionCreate)
	read := string(apikeymodels.PermissionRead)
	revoke := string(apikeymodels.PermissionRevoke)

	r.With(require(create)).Post("/api/verification-links", h.HandleIssue)
	r.With(require(read)).Get("/api/verification-tokens", h.HandleListTokens)
	r.With(require(read)).Get("/api/verification-tokens/{tokenID}", h.HandleGetToken)
	r.With(require(read)).Get("/api/dashboard-stats", h.HandleStats)
	r.With(require(revoke)).Post("/api/verification-tokens/{tokenID}/revoke", h.HandleRevoke)
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[IssueLinkRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	issuer := requestcontext.Principal(ctx)
	res, err := h.service.Issue(ctx, req.parsed, issuer)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue verification link", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "verification link issued",
		"request_id", requestID,
		"token_id", res.TokenID.Short(),
		"issued_by", issuer.ID,
		"geocoded", res.Geocoded,
	)
	httputil.WriteJSON(w, http.StatusCreated, toIssueResponse(res))
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[TokenRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.Validate(ctx, req.tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ValidateTokenResponse{
		Status:    "valid",
		Recipient: res.Recipient,
		ExpiresIn: humanizeDuration(res.ExpiresIn),
	})
}

func (h *Handler) HandleConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ConsentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	result, err := h.service.RecordConsent(ctx, req.tokenID, *req.Consent)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if result != nil {
		httputil.WriteJSON(w, http.StatusOK, result)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ConsentResponse{Status: string(models.StatusProcessing)})
}

// HandleSubmit accepts the one-call flow: when the link is still only
// opened, consent is recorded before the location is scored.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	sub := req.submission
	if sub.Device.UserAgent == "" {
		sub.Device.UserAgent = requestcontext.UserAgent(ctx)
	}

	if !sub.Consent {
		result, err := h.service.Decline(ctx, req.tokenID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
		return
	}

	if _, err := h.service.RecordConsent(ctx, req.tokenID, true); err != nil && !dErrors.HasCode(err, dErrors.CodeInvalidState) {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.Submit(ctx, req.tokenID, sub)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to submit verification", "request_id", requestID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[TokenRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	result, err := h.service.Decline(ctx, req.tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DeclineResponse{
		Message: "Verification decline recorded",
		Status:  string(models.StatusDeclined),
		Result:  result,
	})
}

func (h *Handler) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var status models.Status
	if raw := q.Get("status"); raw != "" {
		st, ok := models.ParseStatus(raw)
		if !ok {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "unknown status filter"))
			return
		}
		status = st
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	tokens, err := h.service.ListTokens(ctx, requestcontext.Principal(ctx), status, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := ListTokensResponse{Tokens: make([]TokenResponse, 0, len(tokens)), Total: len(tokens)}
	for _, t := range tokens {
		resp.Tokens = append(resp.Tokens, toTokenResponse(t))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := h.service.GetResult(ctx, tokenID, requestcontext.Principal(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTokenResponse(token))
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := h.service.Revoke(ctx, tokenID, requestcontext.Principal(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTokenResponse(token))
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Stats(ctx, requestcontext.Principal(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatsResponse(stats))
}
