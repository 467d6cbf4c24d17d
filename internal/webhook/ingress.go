// Package webhook implements the provider-facing HTTP ingress and the
// bus-side consumer that turns normalized provider events into lifecycle
// use-case calls (§4.5).
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/attaboy/payment-orchestrator/internal/provider"
	"github.com/attaboy/payment-orchestrator/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxBodyBytes bounds the raw body read, mirroring the teacher's webhook
// handler's 1MB cap.
const maxBodyBytes = 1 << 20

var stripeAllowedEvents = map[string]bool{
	"checkout.session.completed":  true,
	"payment_intent.succeeded":    true,
	"payment_intent.payment_failed": true,
	"charge.refunded":             true,
}

var razorpayAllowedEvents = map[string]bool{
	"payment.captured":     true,
	"payment.failed":       true,
	"order.paid":           true,
	"refund.processed":     true,
	"subscription.charged": true,
}

var paypalAllowedEvents = map[string]bool{
	"PAYMENT.CAPTURE.COMPLETED": true,
	"PAYMENT.CAPTURE.DENIED":    true,
	"PAYMENT.CAPTURE.FAILED":    true,
}

// Ingress hosts the three provider webhook endpoints.
type Ingress struct {
	pool     *pgxpool.Pool
	outbox   repository.OutboxRepository
	stripe   *provider.StripeAdapter
	razorpay *provider.RazorpayAdapter
	paypal   *provider.PayPalAdapter
	logger   *slog.Logger
}

// NewIngress builds an Ingress over the three concrete adapters — ingress
// needs their webhook-verification methods, which sit outside the uniform
// Adapter port since each provider's verification input shape differs.
func NewIngress(pool *pgxpool.Pool, outbox repository.OutboxRepository, stripe *provider.StripeAdapter, razorpay *provider.RazorpayAdapter, paypal *provider.PayPalAdapter, logger *slog.Logger) *Ingress {
	return &Ingress{pool: pool, outbox: outbox, stripe: stripe, razorpay: razorpay, paypal: paypal, logger: logger}
}

func readRawBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// HandleStripe is POST /api/webhooks/stripe.
func (in *Ingress) HandleStripe(w http.ResponseWriter, r *http.Request) {
	body, err := readRawBody(r)
	if err != nil {
		in.logger.Error("read stripe webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	event, err := in.stripe.VerifyWebhookSignature(body, sigHeader)
	if err != nil {
		in.logger.Warn("stripe webhook signature invalid", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !stripeAllowedEvents[string(event.Type)] {
		in.logger.Info("stripe webhook event not allow-listed", "type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	var obj struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(event.Data.Raw, &obj)

	in.publish(r, domain.ProviderEvent{
		Provider:          domain.ProviderStripe,
		ProviderEventID:   event.ID,
		ProviderEventType: string(event.Type),
		ProviderPaymentID: obj.ID,
		OrderID:           obj.ID,
		OccurredAt:        time.Unix(event.Created, 0),
		Raw:               event.Data.Raw,
	})
	w.WriteHeader(http.StatusOK)
}

// HandleRazorpay is POST /api/webhooks/razorpay.
func (in *Ingress) HandleRazorpay(w http.ResponseWriter, r *http.Request) {
	body, err := readRawBody(r)
	if err != nil {
		in.logger.Error("read razorpay webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("X-Razorpay-Signature")
	if !in.razorpay.VerifyWebhookSignature(body, sig) {
		in.logger.Warn("razorpay webhook signature invalid")
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string `json:"id"`
					OrderID string `json:"order_id"`
				} `json:"entity"`
			} `json:"payment"`
			Order struct {
				Entity struct {
					ID string `json:"id"`
				} `json:"entity"`
			} `json:"order"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		in.logger.Warn("razorpay webhook body decode failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !razorpayAllowedEvents[payload.Event] {
		in.logger.Info("razorpay webhook event not allow-listed", "event", payload.Event)
		w.WriteHeader(http.StatusOK)
		return
	}

	orderID := payload.Payload.Payment.Entity.OrderID
	if orderID == "" {
		orderID = payload.Payload.Order.Entity.ID
	}
	providerPaymentID := payload.Payload.Payment.Entity.ID

	in.publish(r, domain.ProviderEvent{
		Provider:          domain.ProviderRazorpay,
		ProviderEventID:   razorpayEventID(payload.Event, orderID, providerPaymentID),
		ProviderEventType: payload.Event,
		ProviderPaymentID: providerPaymentID,
		OrderID:           orderID,
		OccurredAt:        time.Now(),
		Raw:               body,
	})
	w.WriteHeader(http.StatusOK)
}

func razorpayEventID(event, orderID, paymentID string) string {
	return event + ":" + orderID + ":" + paymentID
}

// HandlePayPal is POST /api/webhooks/paypal.
func (in *Ingress) HandlePayPal(w http.ResponseWriter, r *http.Request) {
	body, err := readRawBody(r)
	if err != nil {
		in.logger.Error("read paypal webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	headers := provider.WebhookHeaders{
		AuthAlgo:         r.Header.Get("Paypal-Auth-Algo"),
		CertURL:          r.Header.Get("Paypal-Cert-Url"),
		TransmissionID:   r.Header.Get("Paypal-Transmission-Id"),
		TransmissionSig:  r.Header.Get("Paypal-Transmission-Sig"),
		TransmissionTime: r.Header.Get("Paypal-Transmission-Time"),
	}
	verified, err := in.paypal.VerifyWebhookSignature(r.Context(), body, headers)
	if err != nil || !verified {
		in.logger.Warn("paypal webhook signature invalid", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload struct {
		ID           string `json:"id"`
		EventType    string `json:"event_type"`
		CreateTime   string `json:"create_time"`
		ResourceType string `json:"resource_type"`
		Resource     struct {
			ID                 string `json:"id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		in.logger.Warn("paypal webhook body decode failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !paypalAllowedEvents[payload.EventType] {
		in.logger.Info("paypal webhook event not allow-listed", "type", payload.EventType)
		w.WriteHeader(http.StatusOK)
		return
	}

	occurredAt, parseErr := time.Parse(time.RFC3339, payload.CreateTime)
	if parseErr != nil {
		occurredAt = time.Now()
	}

	orderID := payload.Resource.SupplementaryData.RelatedIDs.OrderID
	if orderID == "" {
		orderID = payload.Resource.ID
	}

	in.publish(r, domain.ProviderEvent{
		Provider:          domain.ProviderPayPal,
		ProviderEventID:   payload.ID,
		ProviderEventType: payload.EventType,
		ProviderPaymentID: payload.Resource.ID,
		OrderID:           orderID,
		OccurredAt:        occurredAt,
		Raw:               body,
	})
	w.WriteHeader(http.StatusOK)
}

func (in *Ingress) publish(r *http.Request, evt domain.ProviderEvent) {
	draft := domain.NewProviderEventDraft(evt)
	if err := in.outbox.Insert(r.Context(), in.pool, draft); err != nil {
		in.logger.Error("enqueue provider event failed", "provider", evt.Provider, "event_id", evt.ProviderEventID, "error", err)
	}
}
