package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Wire contract with one issuer backend:
// POST {baseURL}/api/payment-network/{authorize|capture|void|refund|validate-token}
// with a static credential header, JSON body, JSON response.

const (
	apiPrefix        = "/api/payment-network"
	credentialHeader = "X-Api-Key"
)

type AuthorizeRequest struct {
	CardToken    string `json:"cardToken"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	MerchantID   string `json:"merchantId"`
	MerchantName string `json:"merchantName"`
	OrderID      string `json:"orderId"`
	Description  string `json:"description,omitempty"`
}

const (
	StatusApproved = "approved"
	StatusDeclined = "declined"
	StatusError    = "error"
)

// AuthorizeResult is the structured outcome of an authorize call. The
// gateway never returns a transport error to callers; exhausted retries and
// immediate failures come back as Status == StatusError.
type AuthorizeResult struct {
	Status            string `json:"status"`
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	DeclineReason     string `json:"declineReason,omitempty"`
	AvailableCredit   int64  `json:"availableCredit,omitempty"`
}

func (r *AuthorizeResult) Approved() bool { return r != nil && r.Status == StatusApproved }
func (r *AuthorizeResult) Declined() bool { return r != nil && r.Status == StatusDeclined }

type captureRequest struct {
	AuthorizationCode string `json:"authorizationCode"`
	Amount            int64  `json:"amount"`
}

type voidRequest struct {
	AuthorizationCode string `json:"authorizationCode"`
}

type refundRequest struct {
	AuthorizationCode string `json:"authorizationCode"`
	Amount            int64  `json:"amount"`
}

// OperationResult is the structured outcome of capture/void/refund.
type OperationResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type validateTokenRequest struct {
	CardToken string `json:"cardToken"`
}

type ValidateTokenResult struct {
	Valid bool `json:"valid"`
}

// Gateway is a retrying HTTP client bound to one issuer instance.
type Gateway struct {
	instanceID string
	baseURL    string
	apiKey     string
	maxRetries int
	retryBase  time.Duration
	httpClient *http.Client
	log        *zap.SugaredLogger
}

type GatewayOptions struct {
	InstanceID string
	BaseURL    string
	APIKey     string
	MaxRetries int
	RetryBase  time.Duration
	Timeout    time.Duration
}

func NewGateway(opts GatewayOptions, log *zap.SugaredLogger) *Gateway {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Gateway{
		instanceID: opts.InstanceID,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        log,
	}
}

// InstanceID identifies the issuer instance this gateway talks to.
func (g *Gateway) InstanceID() string { return g.instanceID }

// Authorize places a hold on funds for the given token.
func (g *Gateway) Authorize(ctx context.Context, req *AuthorizeRequest) *AuthorizeResult {
	g.log.Infow("issuer authorize",
		"issuer_id", g.instanceID,
		"token", partialToken(req.CardToken),
		"amount", req.Amount,
		"currency", req.Currency,
		"order_id", req.OrderID,
	)
	var out AuthorizeResult
	if err := g.call(ctx, "authorize", req, &out); err != nil {
		g.log.Warnw("issuer authorize failed", "issuer_id", g.instanceID, "err", err)
		return &AuthorizeResult{Status: StatusError, DeclineReason: "Network error"}
	}
	return &out
}

// Capture settles a previously authorized amount.
func (g *Gateway) Capture(ctx context.Context, authorizationCode string, amount int64) *OperationResult {
	g.log.Infow("issuer capture", "issuer_id", g.instanceID, "amount", amount)
	return g.operation(ctx, "capture", &captureRequest{AuthorizationCode: authorizationCode, Amount: amount})
}

// Void releases an authorization hold.
func (g *Gateway) Void(ctx context.Context, authorizationCode string) *OperationResult {
	g.log.Infow("issuer void", "issuer_id", g.instanceID)
	return g.operation(ctx, "void", &voidRequest{AuthorizationCode: authorizationCode})
}

// Refund returns captured funds, fully or partially.
func (g *Gateway) Refund(ctx context.Context, authorizationCode string, amount int64) *OperationResult {
	g.log.Infow("issuer refund", "issuer_id", g.instanceID, "amount", amount)
	return g.operation(ctx, "refund", &refundRequest{AuthorizationCode: authorizationCode, Amount: amount})
}

// ValidateToken asks the issuer whether it recognizes the token.
func (g *Gateway) ValidateToken(ctx context.Context, cardToken string) (*ValidateTokenResult, error) {
	g.log.Infow("issuer validate token", "issuer_id", g.instanceID, "token", partialToken(cardToken))
	var out ValidateTokenResult
	if err := g.call(ctx, "validate-token", &validateTokenRequest{CardToken: cardToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Gateway) operation(ctx context.Context, op string, body any) *OperationResult {
	var out OperationResult
	if err := g.call(ctx, op, body, &out); err != nil {
		g.log.Warnw("issuer operation failed", "issuer_id", g.instanceID, "op", op, "err", err)
		return &OperationResult{Success: false, Error: "Network error"}
	}
	return &out
}

// call performs one JSON POST with the gateway retry policy: 5xx and
// retryable network errors back off exponentially up to maxRetries extra
// attempts; 4xx and decode failures surface immediately.
func (g *Gateway) call(ctx context.Context, op string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}
	url := g.baseURL + apiPrefix + "/" + op

	raw, err := doWithRetry(ctx, g.maxRetries, g.retryBase, func(ctx context.Context) ([]byte, error) {
		return g.post(ctx, url, payload)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (g *Gateway) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(credentialHeader, g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{status: resp.StatusCode}
	}
	return raw, nil
}

// partialToken keeps enough of a token to correlate logs without leaking it.
func partialToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
