package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/telemetry"
)

// maxResponseBytes caps how much of a gateway response is read
const maxResponseBytes = 1 << 20

// errTokenRejected marks a 401 so the caller can refresh the token once
var errTokenRejected = fmt.Errorf("%w: access token rejected", billing.ErrGatewayRejected)

// PaysSamAdapter implements billing.Gateway and billing.NotificationDecoder
// for the PaysSam partner API
type PaysSamAdapter struct {
	config     *PaysSamConfig
	httpClient *http.Client
	tokens     *TokenCache
	metrics    *telemetry.BillingMetrics
	logger     *zap.Logger
}

// PaysSamOption configures the adapter
type PaysSamOption func(*PaysSamAdapter)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) PaysSamOption {
	return func(a *PaysSamAdapter) {
		a.httpClient = client
	}
}

// WithTokenCache injects a token cache, e.g. one shared between adapters
func WithTokenCache(cache *TokenCache) PaysSamOption {
	return func(a *PaysSamAdapter) {
		a.tokens = cache
	}
}

// WithMetrics records gateway call counts and latency
func WithMetrics(m *telemetry.BillingMetrics) PaysSamOption {
	return func(a *PaysSamAdapter) {
		a.metrics = m
	}
}

// WithAdapterLogger sets the adapter logger
func WithAdapterLogger(logger *zap.Logger) PaysSamOption {
	return func(a *PaysSamAdapter) {
		a.logger = logger
	}
}

// NewPaysSamAdapter creates a new PaysSam adapter
func NewPaysSamAdapter(config *PaysSamConfig, opts ...PaysSamOption) (*PaysSamAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	a := &PaysSamAdapter{
		config:     config,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tokens == nil {
		a.tokens = NewTokenCache(config.TokenSkew)
	}
	return a, nil
}

// Issue creates a bill at PaysSam and asks it to message the payer
func (a *PaysSamAdapter) Issue(ctx context.Context, req billing.IssueRequest) (*billing.IssueResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrGatewayRejected, err)
	}

	body := paysamIssueRequest{
		MemberID:    a.config.MemberID,
		RefNo:       req.ChargeID.String(),
		PayerName:   req.PayerName,
		PayerPhone:  req.PayerPhone,
		ProductName: req.Product,
		Price:       req.Amount,
		CallbackURL: a.config.CallbackURL,
		SendSMS:     "Y",
	}
	if !req.ExpireAt.IsZero() {
		body.ExpireDate = req.ExpireAt.In(a.config.Location).Format("2006-01-02")
	}

	var resp paysamIssueResponse
	if _, err := a.call(ctx, "issue", http.MethodPost, paysamBillsPath, body, &resp); err != nil {
		return nil, err
	}
	if resp.BillID == "" {
		return nil, fmt.Errorf("%w: issue response has no bill_id", billing.ErrGatewayUnavailable)
	}

	return &billing.IssueResult{
		GatewayBillID: resp.BillID,
		ShortURL:      resp.ShortURL,
		Sent:          strings.EqualFold(resp.SendYN, "Y"),
	}, nil
}

// Cancel cancels the approval of a paid bill
func (a *PaysSamAdapter) Cancel(ctx context.Context, gatewayBillID string) error {
	if gatewayBillID == "" {
		return fmt.Errorf("%w: bill id is required", billing.ErrGatewayRejected)
	}
	var resp paysamEnvelope
	_, err := a.call(ctx, "cancel", http.MethodPost, fmt.Sprintf(paysamCancelPath, url.PathEscape(gatewayBillID)), nil, &resp)
	return err
}

// Destroy withdraws an unpaid bill
func (a *PaysSamAdapter) Destroy(ctx context.Context, gatewayBillID string) error {
	if gatewayBillID == "" {
		return fmt.Errorf("%w: bill id is required", billing.ErrGatewayRejected)
	}
	var resp paysamEnvelope
	_, err := a.call(ctx, "destroy", http.MethodPost, fmt.Sprintf(paysamDestroyPath, url.PathEscape(gatewayBillID)), nil, &resp)
	return err
}

// QueryStatus fetches the approval state of a bill
func (a *PaysSamAdapter) QueryStatus(ctx context.Context, gatewayBillID string) (*billing.StatusResult, error) {
	if gatewayBillID == "" {
		return nil, fmt.Errorf("%w: bill id is required", billing.ErrGatewayRejected)
	}

	var resp paysamStatusResponse
	raw, err := a.call(ctx, "query_status", http.MethodGet, fmt.Sprintf(paysamBillPath, url.PathEscape(gatewayBillID)), nil, &resp)
	if err != nil {
		return nil, err
	}

	state, err := billing.ParseApprovalState(resp.ApprovalState)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrGatewayUnavailable, err)
	}
	approvedAt, err := billing.ParseApprovalTime(resp.ApprovalDate, a.config.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrGatewayUnavailable, err)
	}

	billID := resp.BillID
	if billID == "" {
		billID = gatewayBillID
	}
	return &billing.StatusResult{
		GatewayBillID:  billID,
		State:          state,
		ApprovedAt:     approvedAt,
		PayType:        resp.PayType,
		ApprovalNumber: resp.ApprovalNumber,
		Raw:            json.RawMessage(raw),
	}, nil
}

// QueryBalance fetches the remaining message points
func (a *PaysSamAdapter) QueryBalance(ctx context.Context) (*billing.Balance, error) {
	var resp paysamPointResponse
	if _, err := a.call(ctx, "query_balance", http.MethodGet, paysamPointPath, nil, &resp); err != nil {
		return nil, err
	}
	return &billing.Balance{Points: resp.Point, CheckedAt: time.Now()}, nil
}

// DecodeNotification parses a webhook body. JSON is tried first, then a
// urlencoded form.
func (a *PaysSamAdapter) DecodeNotification(raw []byte, contentType string) (*billing.Notification, error) {
	var n paysamNotification

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", billing.ErrMalformedNotification)
	}
	if trimmed[0] == '{' && !strings.Contains(contentType, "form") {
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", billing.ErrMalformedNotification, err)
		}
	} else {
		form, err := url.ParseQuery(string(trimmed))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", billing.ErrMalformedNotification, err)
		}
		n = paysamNotification{
			BillID:         form.Get("bill_id"),
			ApprovalState:  form.Get("appr_state"),
			ApprovalDate:   form.Get("appr_dt"),
			PayType:        form.Get("appr_pay_type"),
			ApprovalNumber: form.Get("appr_num"),
		}
	}

	billID := strings.TrimSpace(n.BillID)
	if billID == "" {
		return nil, fmt.Errorf("%w: bill_id is required", billing.ErrMalformedNotification)
	}
	state, err := billing.ParseApprovalState(n.ApprovalState)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrMalformedNotification, err)
	}
	approvedAt, err := billing.ParseApprovalTime(n.ApprovalDate, a.config.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrMalformedNotification, err)
	}

	return &billing.Notification{
		GatewayBillID:  billID,
		State:          state,
		ApprovedAt:     approvedAt,
		PayType:        strings.TrimSpace(n.PayType),
		ApprovalNumber: strings.TrimSpace(n.ApprovalNumber),
	}, nil
}

// call performs an authorized API call and decodes a successful response
// into out. It returns the raw response body.
func (a *PaysSamAdapter) call(ctx context.Context, op, method, path string, in, out any) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "paysam."+op,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("http.method", method),
		telemetry.WithAttribute("paysam.path", path),
	)
	defer span.End()
	start := time.Now()

	raw, err := a.authorizedCall(ctx, method, path, in, out)
	a.metrics.RecordGatewayCall(ctx, op, gatewayOutcome(err), time.Since(start))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return raw, nil
}

func (a *PaysSamAdapter) authorizedCall(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return nil, fmt.Errorf("paysam: failed to marshal request: %w", err)
		}
	}

	raw, err := a.doAuthorized(ctx, method, path, body)
	if errors.Is(err, errTokenRejected) {
		a.logger.Warn("paysam access token rejected, refreshing", zap.String("path", path))
		a.tokens.Invalidate()
		raw, err = a.doAuthorized(ctx, method, path, body)
	}
	if err != nil {
		return nil, err
	}
	if err := decodeResult(raw, out); err != nil {
		return nil, err
	}
	return raw, nil
}

func (a *PaysSamAdapter) doAuthorized(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, err := a.tokens.Get(ctx, a.fetchToken)
	if err != nil {
		return nil, err
	}
	return a.doRequest(ctx, method, path, body, token)
}

// fetchToken exchanges the API key for an access token
func (a *PaysSamAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	body, err := json.Marshal(paysamTokenRequest{MemberID: a.config.MemberID, APIKey: a.config.APIKey})
	if err != nil {
		return "", 0, fmt.Errorf("paysam: failed to marshal token request: %w", err)
	}

	raw, err := a.doRequest(ctx, http.MethodPost, paysamTokenPath, body, "")
	if err != nil {
		if errors.Is(err, errTokenRejected) {
			return "", 0, fmt.Errorf("%w: API key rejected", billing.ErrGatewayRejected)
		}
		return "", 0, err
	}

	var resp paysamTokenResponse
	if err := decodeResult(raw, &resp); err != nil {
		return "", 0, err
	}
	if resp.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: token response has no access_token", billing.ErrGatewayUnavailable)
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = a.config.TokenTTL
	}
	return resp.AccessToken, ttl, nil
}

// doRequest performs an HTTP request to the PaysSam API. Transport failures,
// timeouts and 5xx wrap ErrGatewayUnavailable; other 4xx wrap ErrGatewayRejected.
func (a *PaysSamAdapter) doRequest(ctx context.Context, method, path string, body []byte, token string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.config.BaseURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("paysam: failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", billing.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", billing.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errTokenRejected
	case resp.StatusCode >= 400:
		var env paysamEnvelope
		if err := json.Unmarshal(respBody, &env); err == nil && env.Code != "" {
			return nil, fmt.Errorf("%w: %s - %s", billing.ErrGatewayRejected, env.Code, env.Msg)
		}
		return nil, fmt.Errorf("%w: HTTP %d", billing.ErrGatewayRejected, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: unexpected HTTP %d", billing.ErrGatewayUnavailable, resp.StatusCode)
	}

	return respBody, nil
}

// decodeResult checks the result code and decodes the body into out. A body
// that is not a recognised envelope never counts as success.
func decodeResult(raw []byte, out any) error {
	var env paysamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Code == "" {
		return fmt.Errorf("%w: unrecognised response", billing.ErrGatewayUnavailable)
	}
	if env.Code != paysamResultOK {
		return fmt.Errorf("%w: %s - %s", billing.ErrGatewayRejected, env.Code, env.Msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", billing.ErrGatewayUnavailable, err)
	}
	return nil
}

func gatewayOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, billing.ErrGatewayRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}

// VerifyWebhookSignature checks a hex HMAC-SHA256 of body. An optional
// "sha256=" prefix on the signature is accepted.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignWebhook returns the hex signature VerifyWebhookSignature accepts
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var (
	_ billing.Gateway             = (*PaysSamAdapter)(nil)
	_ billing.NotificationDecoder = (*PaysSamAdapter)(nil)
)
