package handler

import (
	"net/http"

	"github.com/attaboy/payment-orchestrator/internal/webhook"
)

// WebhookHandler exposes the three provider webhook endpoints, delegating
// verification and normalization to webhook.Ingress.
type WebhookHandler struct {
	ingress *webhook.Ingress
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingress *webhook.Ingress) *WebhookHandler {
	return &WebhookHandler{ingress: ingress}
}

// HandleStripe handles POST /api/webhooks/stripe.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	h.ingress.HandleStripe(w, r)
}

// HandleRazorpay handles POST /api/webhooks/razorpay.
func (h *WebhookHandler) HandleRazorpay(w http.ResponseWriter, r *http.Request) {
	h.ingress.HandleRazorpay(w, r)
}

// HandlePayPal handles POST /api/webhooks/paypal.
func (h *WebhookHandler) HandlePayPal(w http.ResponseWriter, r *http.Request) {
	h.ingress.HandlePayPal(w, r)
}
