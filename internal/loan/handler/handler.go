package handler

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"vericrop/internal/loan"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/httputil"
	"vericrop/pkg/requestcontext"
)

// Service defines the loan operations exposed over HTTP.
type Service interface {
	Loan(ctx context.Context, id domain.LoanID) (*loan.Offer, error)
	RetryDisbursement(ctx context.Context, id domain.LoanID, destination string) (*loan.Offer, error)
}

// Handler wires loan endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterOperator mounts operator-only endpoints.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Get("/loans/{loanID}", h.HandleGet)
	r.Post("/loans/{loanID}/disbursement/retry", h.HandleRetryDisbursement)
}

// HandleGet handles GET /loans/{loanID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseLoanID(chi.URLParam(r, "loanID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	offer, err := h.service.Loan(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, offer)
}

var upiPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z]{2,64}$`)

// RetryRequest optionally supplies a payout destination the loan lacks.
type RetryRequest struct {
	Destination string `json:"destination"`
}

func (r *RetryRequest) Validate() error {
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Destination != "" && !upiPattern.MatchString(r.Destination) {
		return dErrors.NewField(dErrors.CodeValidation, "destination", "must be a UPI id")
	}
	return nil
}

// HandleRetryDisbursement handles POST /loans/{loanID}/disbursement/retry.
// The body is optional.
func (h *Handler) HandleRetryDisbursement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := domain.ParseLoanID(chi.URLParam(r, "loanID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req := &RetryRequest{}
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = httputil.DecodeAndPrepare[RetryRequest](w, r, h.logger, ctx, requestID); !ok {
			return
		}
	}

	offer, err := h.service.RetryDisbursement(ctx, id, req.Destination)
	if err != nil {
		h.logger.ErrorContext(ctx, "disbursement retry failed",
			"request_id", requestID,
			"loan_id", id.String(),
			"error", err,
		)
		if offer != nil && dErrors.HasCode(err, dErrors.CodeDisbursement) {
			httputil.WriteJSON(w, http.StatusBadGateway, offer)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, offer)
}
