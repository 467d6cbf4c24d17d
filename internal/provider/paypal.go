package provider

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/attaboy/payment-orchestrator/internal/domain"
)

var paypalSupportedCurrencies = []string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY"}

// CertCache is the subset of infra.RedisClient the PayPal adapter needs to
// cache fetched webhook certificates for 12h, per §4.5.
type CertCache interface {
	GetCachedCert(ctx context.Context, certURL string) (string, bool, error)
	PutCachedCert(ctx context.Context, certURL, pem string) error
}

// PayPalAdapter implements Adapter against PayPal's REST Orders v2 API.
// There is no maintained official PayPal Go SDK, so every call is plain
// net/http + manual JSON, and webhook signature verification is hand-rolled
// per the transmission-signature scheme PayPal documents (§4.5).
type PayPalAdapter struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	certs        CertCache
}

// NewPayPalAdapter builds an adapter against baseURL (sandbox or live).
func NewPayPalAdapter(baseURL, clientID, clientSecret, webhookID string, certs CertCache) *PayPalAdapter {
	return &PayPalAdapter{
		httpClient:   &http.Client{Timeout: httpTimeout},
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    webhookID,
		certs:        certs,
	}
}

func (a *PayPalAdapter) Provider() domain.Provider { return domain.ProviderPayPal }

type paypalAccessToken struct {
	AccessToken string `json:"access_token"`
}

func (a *PayPalAdapter) fetchAccessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal oauth token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("paypal oauth token failed (%d): %s", resp.StatusCode, body)
	}

	var tok paypalAccessToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode paypal oauth token: %w", err)
	}
	return tok.AccessToken, nil
}

// CreateSession creates a PayPal order in CAPTURE intent.
func (a *PayPalAdapter) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	token, err := a.fetchAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	amountValue := formatPayPalAmount(req.Amount, req.Currency)
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": req.OrderID,
				"amount": map[string]interface{}{
					"currency_code": req.Currency,
					"value":         amountValue,
				},
			},
		},
		"application_context": map[string]interface{}{
			"return_url": req.SuccessURL,
			"cancel_url": req.CancelURL,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal paypal order body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v2/checkout/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("PayPal-Request-Id", req.IdempotencyKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("paypal create order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("paypal create order failed (%d): %s", resp.StatusCode, raw)
	}

	var order struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode paypal order: %w", err)
	}

	approvalURL := ""
	for _, l := range order.Links {
		if l.Rel == "approve" {
			approvalURL = l.Href
			break
		}
	}

	metadata, _ := json.Marshal(order)

	return &CreateSessionResult{
		ProviderOrderID:  order.ID,
		ProviderAmount:   req.Amount,
		ProviderCurrency: req.Currency,
		Metadata:         metadata,
		ApprovalURL:      approvalURL,
	}, nil
}

// Resolve captures the order. PayPal's resolve path is the capture call
// itself, not a separate signature check.
func (a *PayPalAdapter) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	token, err := a.fetchAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v2/checkout/orders/"+req.ProviderOrderID+"/capture", strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("paypal capture order: %w", err)
	}
	defer resp.Body.Close()

	var capture struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID string `json:"id"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("paypal capture failed (%d): %s", resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(&capture); err != nil {
		return nil, fmt.Errorf("decode paypal capture: %w", err)
	}

	providerPaymentID := ""
	if len(capture.PurchaseUnits) > 0 && len(capture.PurchaseUnits[0].Payments.Captures) > 0 {
		providerPaymentID = capture.PurchaseUnits[0].Payments.Captures[0].ID
	}

	return &ResolveResult{
		ProviderStatus:    capture.Status,
		IsVerified:        capture.Status == "COMPLETED",
		ProviderPaymentID: providerPaymentID,
	}, nil
}

// Cancel marks the order FAILED locally; PayPal has no cancel-order API once
// an order has been created, so this never calls out.
func (a *PayPalAdapter) Cancel(ctx context.Context, providerOrderID, reason string) (*CancelResult, error) {
	return &CancelResult{Success: true, Reason: "local cancel only, no PayPal cancel API"}, nil
}

// Refund is out of scope for orchestration; kept for contract completeness.
func (a *PayPalAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	token, err := a.fetchAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	amountValue := formatPayPalAmount(req.Amount, req.Currency)
	body, _ := json.Marshal(map[string]interface{}{
		"amount": map[string]interface{}{
			"currency_code": req.Currency,
			"value":         amountValue,
		},
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v2/payments/captures/"+req.ProviderPaymentID+"/refund", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("PayPal-Request-Id", req.IdempotencyKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("paypal refund: %w", err)
	}
	defer resp.Body.Close()

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("paypal refund failed (%d): %s", resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(&refund); err != nil {
		return nil, fmt.Errorf("decode paypal refund: %w", err)
	}

	status := domain.RefundStatusPending
	if refund.Status == "COMPLETED" {
		status = domain.RefundStatusSuccess
	} else if refund.Status == "FAILED" {
		status = domain.RefundStatusFailed
	}
	return &RefundResult{ProviderRefundID: refund.ID, Status: status}, nil
}

func (a *PayPalAdapter) SupportedCurrencies() []string { return paypalSupportedCurrencies }

func (a *PayPalAdapter) IsCurrencySupported(code string) bool {
	return supportsCurrency(paypalSupportedCurrencies, code)
}

func (a *PayPalAdapter) IsAvailable(ctx context.Context) bool {
	_, err := a.fetchAccessToken(ctx)
	return err == nil
}

// WebhookHeaders carries the five PayPal transmission headers §4.5 requires.
type WebhookHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// VerifyWebhookSignature fetches (and caches) the signing cert, builds the
// expected signature string, and verifies it against the transmission
// signature with RSA PKCS#1 v1.5 over SHA-256 (§4.5). The algorithm named in
// h.AuthAlgo is not consulted.
func (a *PayPalAdapter) VerifyWebhookSignature(ctx context.Context, body []byte, h WebhookHeaders) (bool, error) {
	certPEM, found, err := a.certs.GetCachedCert(ctx, h.CertURL)
	if err != nil {
		return false, fmt.Errorf("cert cache lookup: %w", err)
	}
	if !found {
		certPEM, err = a.fetchCert(ctx, h.CertURL)
		if err != nil {
			return false, err
		}
		if err := a.certs.PutCachedCert(ctx, h.CertURL, certPEM); err != nil {
			return false, fmt.Errorf("cert cache store: %w", err)
		}
	}

	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return false, errors.New("paypal cert: failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, fmt.Errorf("paypal cert parse: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false, errors.New("paypal cert: public key is not RSA")
	}

	bodyHash := sha256.Sum256(body)
	expected := fmt.Sprintf("%s|%s|%s|%s", h.TransmissionID, h.TransmissionTime, a.webhookID, hex.EncodeToString(bodyHash[:]))

	sig, err := base64.StdEncoding.DecodeString(h.TransmissionSig)
	if err != nil {
		return false, fmt.Errorf("decode transmission signature: %w", err)
	}

	digest := sha256.Sum256([]byte(expected))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return false, nil
	}
	return true, nil
}

func (a *PayPalAdapter) fetchCert(ctx context.Context, certURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch paypal cert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch paypal cert failed (%d)", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read paypal cert: %w", err)
	}
	return string(raw), nil
}

// formatPayPalAmount renders minor-unit integer amounts as PayPal's
// major-unit decimal string (e.g. 1050 USD -> "10.50"). JPY has no minor
// unit subdivision.
func formatPayPalAmount(amountMinor int64, currency string) string {
	if currency == "JPY" {
		return strconv.FormatInt(amountMinor, 10)
	}
	major := amountMinor / 100
	minor := amountMinor % 100
	if minor < 0 {
		minor = -minor
	}
	return fmt.Sprintf("%d.%02d", major, minor)
}
