package handler

import (
	"net/http"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/attaboy/payment-orchestrator/internal/service"
)

// PaymentHandler exposes the payment lifecycle RPCs over HTTP.
type PaymentHandler struct {
	paymentSvc *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

func idempotencyKey(r *http.Request) (string, error) {
	key := r.Header.Get("idempotency-key")
	if key == "" {
		return "", domain.ErrMissingIdempotencyKey()
	}
	return key, nil
}

type createPaymentRequest struct {
	UserID     string `json:"userId"`
	OrderID    string `json:"orderId"`
	Provider   string `json:"provider"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// CreatePayment handles POST /payments.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req createPaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.UserID == "" || req.OrderID == "" || req.Provider == "" {
		RespondError(w, domain.ErrValidation("userId, orderId and provider are required"))
		return
	}

	result, err := h.paymentSvc.CreatePayment(r.Context(), key, service.CreatePaymentRequest{
		UserID:     req.UserID,
		OrderID:    req.OrderID,
		Provider:   domain.Provider(req.Provider),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondOK(w, http.StatusOK, result)
}

type resolvePaymentRequest struct {
	Provider          string `json:"provider"`
	ProviderOrderID   string `json:"providerOrderId"`
	ProviderPaymentID string `json:"providerPaymentId"`
	Signature         string `json:"signature"`
}

// ResolvePayment handles POST /payments/resolve.
func (h *PaymentHandler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	var req resolvePaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.Provider == "" || req.ProviderOrderID == "" {
		RespondError(w, domain.ErrValidation("provider and providerOrderId are required"))
		return
	}

	key, err := idempotencyKey(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	result, err := h.paymentSvc.ResolvePayment(r.Context(), key, service.ResolvePaymentRequest{
		Provider:          domain.Provider(req.Provider),
		ProviderOrderID:   req.ProviderOrderID,
		ProviderPaymentID: req.ProviderPaymentID,
		Signature:         req.Signature,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondOK(w, http.StatusOK, result)
}

type cancelPaymentRequest struct {
	Provider        string `json:"provider"`
	ProviderOrderID string `json:"providerOrderId"`
	Reason          string `json:"reason"`
}

// CancelPayment handles POST /payments/cancel.
func (h *PaymentHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req cancelPaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.Provider == "" || req.ProviderOrderID == "" {
		RespondError(w, domain.ErrValidation("provider and providerOrderId are required"))
		return
	}

	result, err := h.paymentSvc.CancelPayment(r.Context(), key, service.CancelPaymentRequest{
		Provider:        domain.Provider(req.Provider),
		ProviderOrderID: req.ProviderOrderID,
		Reason:          req.Reason,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondOK(w, http.StatusOK, result)
}
