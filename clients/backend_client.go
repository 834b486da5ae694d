package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/IA-Academy-Team/checkout-service/metrics"
)

// BackendClient talks to the inscriptions backend that owns pending inscriptions
// and the Wompi integrity secret.
type BackendClient struct {
	client *resty.Client
	logger *zap.Logger
}

type signatureRequest struct {
	Reference     string `json:"reference"`
	AmountInCents int64  `json:"amountInCents"`
	Currency      string `json:"currency"`
}

type signatureResponse struct {
	Signature string `json:"signature"`
}

type backendError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewBackendClient creates a client for baseURL. token, when set, is sent as a bearer token.
func NewBackendClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *BackendClient {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &BackendClient{client: client, logger: logger}
}

// CreatePendingInscription registers the buyer's form data under the payment reference.
func (b *BackendClient) CreatePendingInscription(ctx context.Context, payload map[string]any) error {
	start := time.Now()
	err := b.post(ctx, "/inscriptions/pending", payload, nil)
	metrics.ObserveBackendCall("pending_inscription", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("create pending inscription: %w", err)
	}
	return nil
}

// GetSignature asks the backend for the integrity signature of the payment.
func (b *BackendClient) GetSignature(ctx context.Context, reference string, amountInCents int64, currency string) (string, error) {
	start := time.Now()
	var out signatureResponse
	err := b.post(ctx, "/wompi/signature", signatureRequest{
		Reference:     reference,
		AmountInCents: amountInCents,
		Currency:      currency,
	}, &out)
	if err == nil && strings.TrimSpace(out.Signature) == "" {
		err = errors.New("empty signature in response")
	}
	metrics.ObserveBackendCall("signature", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("get signature: %w", err)
	}
	return out.Signature, nil
}

func (b *BackendClient) post(ctx context.Context, path string, body, out any) error {
	var errBody backendError
	req := b.client.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&errBody)
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	if resp.IsError() {
		msg := errBody.Message
		if msg == "" {
			msg = errBody.Error
		}
		if msg == "" {
			msg = resp.String()
		}
		b.logger.Warn("Backend call failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.String("message", msg),
		)
		return fmt.Errorf("backend error (status %d): %s", resp.StatusCode(), msg)
	}
	return nil
}
