package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vericrop/internal/certificate"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/httputil"
	"vericrop/pkg/requestcontext"
)

// Service defines the certificate operations exposed over HTTP.
type Service interface {
	VerifyCertificate(ctx context.Context, id domain.CertificateID) (*certificate.Verification, error)
	RevokeCertificate(ctx context.Context, id domain.CertificateID, reason string) (*certificate.Certificate, error)
}

// Handler wires certificate endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public verification endpoint.
func (h *Handler) Register(r chi.Router) {
	r.Get("/certificates/{certificateID}/verify", h.HandleVerify)
}

// RegisterOperator mounts operator-only endpoints. Callers wrap r with the
// operator auth middleware.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/certificates/{certificateID}/revoke", h.HandleRevoke)
}

// HandleVerify handles GET /certificates/{certificateID}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := domain.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.service.VerifyCertificate(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate verification failed",
			"request_id", requestID,
			"certificate_id", id.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerificationResponse(v))
}

// RevokeRequest is the body of POST /certificates/{certificateID}/revoke.
type RevokeRequest struct {
	Reason string `json:"reason"`
}

func (r *RevokeRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.NewField(dErrors.CodeValidation, "reason", "is required")
	}
	if len(r.Reason) > 500 {
		return dErrors.NewField(dErrors.CodeValidation, "reason", "must be at most 500 characters")
	}
	return nil
}

// HandleRevoke handles POST /certificates/{certificateID}/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := domain.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	cert, err := h.service.RevokeCertificate(ctx, id, req.Reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate revocation failed",
			"request_id", requestID,
			"certificate_id", id.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "certificate revoked",
		"request_id", requestID,
		"certificate_id", id.String(),
		"actor_id", requestcontext.ReviewerID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, cert)
}

type verificationResponse struct {
	CertificateID  string                   `json:"certificate_id"`
	ClaimID        string                   `json:"claim_id"`
	Status         certificate.Status       `json:"status"`
	ContentHash    string                   `json:"content_hash"`
	RecomputedHash string                   `json:"recomputed_hash"`
	LedgerRef      string                   `json:"ledger_ref,omitempty"`
	StoredMatches  bool                     `json:"stored_hash_matches"`
	LedgerMatches  bool                     `json:"ledger_hash_matches"`
	Valid          bool                     `json:"valid"`
	Certificate    *certificate.Certificate `json:"certificate"`
}

func toVerificationResponse(v *certificate.Verification) verificationResponse {
	return verificationResponse{
		CertificateID:  v.Certificate.ID.String(),
		ClaimID:        v.Certificate.ClaimID.String(),
		Status:         v.Certificate.Status,
		ContentHash:    v.Certificate.ContentHash,
		RecomputedHash: v.RecomputedHash,
		LedgerRef:      v.Certificate.LedgerRef,
		StoredMatches:  v.StoredMatches,
		LedgerMatches:  v.LedgerMatches,
		Valid:          v.Valid,
		Certificate:    v.Certificate,
	}
}
