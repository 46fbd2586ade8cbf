package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vericrop/internal/certificate"
	"vericrop/internal/claims"
	"vericrop/internal/decision"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/httputil"
	"vericrop/pkg/requestcontext"
)

// Service defines the claim operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, sub claims.Submission) (*claims.Claim, error)
	Status(ctx context.Context, id domain.ClaimID) (*claims.Report, error)
	ResolveReview(ctx context.Context, id domain.ClaimID, r decision.Review) error
	RetryCertificate(ctx context.Context, id domain.ClaimID) (*certificate.Certificate, error)
}

// Handler wires claim endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public claim endpoints. intake wraps submission only.
func (h *Handler) Register(r chi.Router, intake ...func(http.Handler) http.Handler) {
	r.With(intake...).Post("/claims", h.HandleSubmit)
	r.Get("/claims/{claimID}", h.HandleStatus)
}

// RegisterReviewer mounts endpoints that require a reviewer token.
func (h *Handler) RegisterReviewer(r chi.Router) {
	r.Post("/claims/{claimID}/review", h.HandleReview)
}

// RegisterOperator mounts operator-only endpoints.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/claims/{claimID}/certificate/retry", h.HandleRetryCertificate)
}

// SubmitRequest is the claim intake body.
type SubmitRequest struct {
	FarmerID     string   `json:"farmer_id"`
	DamageType   string   `json:"damage_type"`
	Location     *latLon  `json:"location"`
	EvidenceRef  string   `json:"evidence_ref"`
	DamageAmount *float64 `json:"damage_amount"`
	PayoutUPI    string   `json:"payout_upi"`
}

type latLon struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Validate checks presence only; range and format checks happen at intake.
func (r *SubmitRequest) Validate() error {
	if r.Location == nil || r.Location.Latitude == nil {
		return dErrors.NewField(dErrors.CodeInvalidInput, "latitude", "is required")
	}
	if r.Location.Longitude == nil {
		return dErrors.NewField(dErrors.CodeInvalidInput, "longitude", "is required")
	}
	if r.DamageAmount == nil {
		return dErrors.NewField(dErrors.CodeInvalidInput, "damage_amount", "is required")
	}
	return nil
}

func (r *SubmitRequest) submission() claims.Submission {
	return claims.Submission{
		FarmerID:     r.FarmerID,
		DamageType:   r.DamageType,
		Latitude:     *r.Location.Latitude,
		Longitude:    *r.Location.Longitude,
		EvidenceRef:  r.EvidenceRef,
		DamageAmount: *r.DamageAmount,
		PayoutUPI:    r.PayoutUPI,
	}
}

type submitResponse struct {
	ClaimID domain.ClaimID `json:"claim_id"`
	State   decision.State `json:"state"`
}

// HandleSubmit handles POST /claims. Processing runs asynchronously; the
// claim id is returned immediately with 202.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	c, err := h.service.Submit(ctx, req.submission())
	if err != nil {
		h.logger.InfoContext(ctx, "claim submission rejected",
			"request_id", requestID,
			"field", dErrors.FieldOf(err),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/claims/"+c.ID.String())
	httputil.WriteJSON(w, http.StatusAccepted, submitResponse{ClaimID: c.ID, State: c.State})
}

// HandleStatus handles GET /claims/{claimID}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseClaimID(chi.URLParam(r, "claimID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.service.Status(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// ReviewRequest carries a reviewer's decision. The reviewer id comes from the token.
type ReviewRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`

	verdict decision.Verdict
}

const maxReviewReasonLength = 1000

func (r *ReviewRequest) Validate() error {
	v, err := decision.ParseVerdict(r.Decision)
	if err != nil {
		return err
	}
	r.verdict = v
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > maxReviewReasonLength {
		return dErrors.NewField(dErrors.CodeValidation, "reason", "is too long")
	}
	return nil
}

// HandleReview handles POST /claims/{claimID}/review.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := domain.ParseClaimID(chi.URLParam(r, "claimID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reviewerID := requestcontext.ReviewerID(ctx)
	if reviewerID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "reviewer identity required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReviewRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	review := decision.Review{Verdict: req.verdict, ReviewerID: reviewerID, Reason: req.Reason}
	if err := h.service.ResolveReview(ctx, id, review); err != nil {
		h.logger.WarnContext(ctx, "review decision not applied",
			"request_id", requestID,
			"claim_id", id.String(),
			"reviewer_id", reviewerID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.Status(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleRetryCertificate handles POST /claims/{claimID}/certificate/retry.
func (h *Handler) HandleRetryCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := domain.ParseClaimID(chi.URLParam(r, "claimID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.service.RetryCertificate(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate retry failed",
			"request_id", requestID,
			"claim_id", id.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}
