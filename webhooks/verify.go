package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-revenue-recovery/core"
)

// Verifier authenticates one raw delivery against the billing connector's
// signing scheme. A nil error marks the request source-verified.
type Verifier interface {
	Verify(ctx context.Context, req core.WebhookRequest) error
}

type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req core.WebhookRequest) error {
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimPrefix(header, strings.TrimSpace(v.Prefix))
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode base64 signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode hex signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	}
	return nil
}

// HeaderTokenVerifier matches a shared secret carried verbatim in a
// header, the scheme chargebee and recurly use for basic-auth endpoints.
type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req core.WebhookRequest) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return fmt.Errorf("webhooks: verification token is required")
	}
	actual := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if actual == "" {
		return fmt.Errorf("webhooks: %s verification header is required", strings.TrimSpace(v.Header))
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("webhooks: verification token mismatch")
	}
	return nil
}

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req core.WebhookRequest) (string, error) {
		for _, key := range keys {
			if value := strings.TrimSpace(headerValue(req.Headers, key)); value != "" {
				return value, nil
			}
		}
		return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
	}
}

func ChainDeliveryIDExtractors(extractors ...DeliveryIDExtractor) DeliveryIDExtractor {
	list := append([]DeliveryIDExtractor(nil), extractors...)
	return func(req core.WebhookRequest) (string, error) {
		var lastErr error
		for _, extractor := range list {
			if extractor == nil {
				continue
			}
			deliveryID, err := extractor(req)
			if err == nil && strings.TrimSpace(deliveryID) != "" {
				return strings.TrimSpace(deliveryID), nil
			}
			if err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
	}
}

// ConnectorWebhookTemplate bundles the verifier and delivery-id extractor
// for one billing connector's webhook endpoint.
type ConnectorWebhookTemplate struct {
	ConnectorID string
	Verifier    Verifier
	Extractor   DeliveryIDExtractor
}

// VerifyRequest runs the template's verifier and returns the request with
// SourceVerified set accordingly, so the caller hands the processor a
// precomputed authentication result.
func (t ConnectorWebhookTemplate) VerifyRequest(ctx context.Context, req core.WebhookRequest) (core.WebhookRequest, error) {
	if t.Verifier == nil {
		req.SourceVerified = false
		return req, fmt.Errorf("webhooks: no verifier configured for %s", t.ConnectorID)
	}
	if err := t.Verifier.Verify(ctx, req); err != nil {
		req.SourceVerified = false
		return req, err
	}
	req.SourceVerified = true
	if req.ConnectorID == "" {
		req.ConnectorID = t.ConnectorID
	}
	return req, nil
}

func NewChargebeeWebhookTemplate(basicAuthToken string) ConnectorWebhookTemplate {
	return ConnectorWebhookTemplate{
		ConnectorID: "chargebee",
		Verifier: HeaderTokenVerifier{
			Header: "Authorization",
			Token:  strings.TrimSpace(basicAuthToken),
		},
		Extractor: ChainDeliveryIDExtractors(
			HeaderDeliveryIDExtractor("X-Chargebee-Webhook-Id"),
			func(req core.WebhookRequest) (string, error) {
				return DefaultDeliveryIDExtractor(req)
			},
		),
	}
}

func NewRecurlyWebhookTemplate(secret string) ConnectorWebhookTemplate {
	return ConnectorWebhookTemplate{
		ConnectorID: "recurly",
		Verifier: HeaderHMACVerifier{
			Header:   "Recurly-Signature",
			Secret:   strings.TrimSpace(secret),
			Encoding: "hex",
		},
		Extractor: HeaderDeliveryIDExtractor("Recurly-Notification-Id", "X-Request-Id"),
	}
}
