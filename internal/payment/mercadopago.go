// Package payment charges entry fees over the Mercado Pago pix rail and
// settles them from provider webhooks.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

var (
	ErrProviderRejected    = errors.New("payment: provider rejected charge")
	ErrProviderUnavailable = errors.New("payment: provider unavailable")
)

const (
	defaultTimeout = 8 * time.Second
	maxAttempts    = 3
)

// Charge is the provider-side view of a pix payment.
type Charge struct {
	ExternalID string
	CopiaCola  string
	QRBase64   string
}

type pixPaymentRequest struct {
	TransactionAmount float64  `json:"transaction_amount"`
	Description       string   `json:"description"`
	PaymentMethodID   string   `json:"payment_method_id"`
	ExternalReference string   `json:"external_reference"`
	NotificationURL   string   `json:"notification_url,omitempty"`
	Payer             pixPayer `json:"payer"`
}

type pixPayer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
}

type pixPaymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// MercadoPago talks to the Mercado Pago payments API over fasthttp.
type MercadoPago struct {
	http        *fasthttp.Client
	baseURL     string
	accessToken string
	notifyURL   string
	timeout     time.Duration
}

func NewMercadoPago(baseURL, accessToken, notifyURL string) *MercadoPago {
	return &MercadoPago{
		http: &fasthttp.Client{
			MaxConnsPerHost:               64,
			ReadTimeout:                   defaultTimeout,
			WriteTimeout:                  defaultTimeout,
			DisableHeaderNamesNormalizing: false,
		},
		baseURL:     baseURL,
		accessToken: accessToken,
		notifyURL:   notifyURL,
		timeout:     defaultTimeout,
	}
}

// CreatePixCharge registers a pix payment of amount centavos referencing our
// transaction id. The idempotency key pins retries to a single provider charge.
func (m *MercadoPago) CreatePixCharge(ctx context.Context, txID, payerEmail, payerName string, amountCentavos int64, description string) (*Charge, error) {
	body, err := json.Marshal(pixPaymentRequest{
		TransactionAmount: float64(amountCentavos) / 100,
		Description:       description,
		PaymentMethodID:   "pix",
		ExternalReference: txID,
		NotificationURL:   m.notifyURL,
		Payer:             pixPayer{Email: payerEmail, FirstName: payerName},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal pix charge: %w", err)
	}

	idempotencyKey := uuid.NewString()
	var out pixPaymentResponse
	if err := m.postJSON(ctx, "/v1/payments", idempotencyKey, body, &out); err != nil {
		return nil, err
	}

	td := out.PointOfInteraction.TransactionData
	if out.ID.String() == "" || td.QRCode == "" {
		return nil, fmt.Errorf("%w: incomplete pix payload", ErrProviderRejected)
	}
	return &Charge{
		ExternalID: out.ID.String(),
		CopiaCola:  td.QRCode,
		QRBase64:   td.QRCodeBase64,
	}, nil
}

func (m *MercadoPago) postJSON(ctx context.Context, path, idempotencyKey string, body []byte, out any) error {
	deadline := computeDeadline(ctx, m.timeout)

	var lastErr error
	backoff := 150 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()

		req.SetRequestURI(m.baseURL + path)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.Header.Set("Authorization", "Bearer "+m.accessToken)
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
		req.SetBody(body)

		err := m.http.DoDeadline(req, resp, deadline)
		if err != nil {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			lastErr = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
			continue
		}

		status := resp.StatusCode()
		if status >= 500 {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			lastErr = fmt.Errorf("%w: status %d", ErrProviderUnavailable, status)
			continue
		}
		if status >= 400 {
			snippet := truncate(string(resp.Body()), 200)
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			return fmt.Errorf("%w: status %d: %s", ErrProviderRejected, status, snippet)
		}

		decodeErr := json.Unmarshal(resp.Body(), out)
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		if decodeErr != nil {
			return fmt.Errorf("decode pix response: %w", decodeErr)
		}
		return nil
	}
	return lastErr
}

func computeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
