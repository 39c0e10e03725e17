package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/pkg/config"
	"github.com/Proton-105/globalization/pkg/logger"
)

// Gateway is a Provider that posts payouts to an HTTP payment gateway.
type Gateway struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

var _ Provider = (*Gateway)(nil)

// NewGateway creates a gateway provider for name.
func NewGateway(name, endpoint, apiKey string, client *http.Client) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}

	return &Gateway{
		name:     NormalizeChannel(name),
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
	}
}

// Name implements Provider.
func (g *Gateway) Name() string {
	return g.name
}

// Pay implements Provider.
func (g *Gateway) Pay(ctx context.Context, req PayoutRequest) (*Confirmation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("encode payout: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("build %s request: %v", g.name, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	logger.Propagate(httpReq)
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if neverSent(err) {
			return nil, apperrors.NewExternalAPIError(g.name, err)
		}
		return nil, g.outcomeUnknown(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, g.outcomeUnknown(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		appErr := apperrors.FromHTTPStatus(g.name, resp.StatusCode, msg)
		if rejectedUnprocessed(resp.StatusCode, raw) {
			return nil, appErr
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, g.outcomeUnknown(appErr)
		}
		return nil, appErr
	}

	var confirmation Confirmation
	if err := json.Unmarshal(raw, &confirmation); err != nil {
		return nil, g.outcomeUnknown(fmt.Errorf("decode response: %w", err))
	}

	switch strings.ToLower(confirmation.Status) {
	case "declined", "rejected", "failed":
		return nil, apperrors.NewDeclinedError(g.name, fmt.Errorf("payout %s: %s", confirmation.Reference, confirmation.Status))
	}

	if confirmation.Reference == "" {
		return nil, g.outcomeUnknown(errors.New("response has no reference"))
	}

	return &confirmation, nil
}

// ErrOutcomeUnknown marks a payout request that may have been executed by
// the gateway even though no confirmation came back.
var ErrOutcomeUnknown = errors.New("payout outcome unknown")

// outcomeUnknown is retryable against the same gateway, whose idempotency
// key deduplicates, but must never fall through to another provider.
func (g *Gateway) outcomeUnknown(cause error) error {
	return apperrors.NewExternalAPIError(g.name, fmt.Errorf("%w: %w", ErrOutcomeUnknown, cause))
}

// neverSent reports transport errors raised before the request left, such
// as a refused connection or a failed DNS lookup.
func neverSent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// rejectedUnprocessed reports responses that prove the payout was not run:
// throttling, and a bare 503 from a proxy in front of the gateway.
func rejectedUnprocessed(status int, body []byte) bool {
	switch status {
	case http.StatusTooManyRequests:
		return true
	case http.StatusServiceUnavailable:
		return len(bytes.TrimSpace(body)) == 0
	}
	return false
}

// GatewaysFromConfig builds one Gateway per configured provider.
func GatewaysFromConfig(providers map[string]config.GatewayConfig, client *http.Client) []Provider {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Provider, 0, len(names))
	for _, name := range names {
		gw := providers[name]
		out = append(out, NewGateway(name, gw.Endpoint, gw.APIKey, client))
	}
	return out
}
