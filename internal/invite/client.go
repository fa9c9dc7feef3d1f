package invite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/retry"
	"github.com/oliveagle/jsonpath"
	"golang.org/x/time/rate"
)

const (
	memberPageSize  = 100
	maxMemberPages  = 50
	maxResponseBody = 64 * 1024
	inviteIDPath    = "$.account_invites[0].id"
	itemsPath       = "$.items"
	totalPath       = "$.total"
)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the pooled default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second; 0 disables the limiter
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBreaker replaces the default circuit breaker
func WithBreaker(b *retry.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// Client is the HTTP implementation of Service
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     *retry.Policy
	breaker    *retry.Breaker
	limiter    *rate.Limiter
}

var _ Service = (*Client)(nil)

// NewClient creates a client for the API rooted at baseURL
func NewClient(baseURL string, timeout time.Duration, policy *retry.Policy, opts ...Option) *Client {
	if policy == nil {
		policy = retry.NewPolicy(model.RetryConfig{})
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		policy:  policy,
		breaker: retry.NewBreaker(5, 2, 60*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerState reports the circuit breaker state for health output
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Invite posts a standard-user invitation for email
func (c *Client) Invite(ctx context.Context, email string, creds model.Credentials) (*Result, error) {
	result := &Result{}

	email = strings.TrimSpace(email)
	if email == "" {
		return result, model.ValidationError("invitation email is required")
	}
	if !creds.Valid() {
		return result, model.ValidationError("group credentials are incomplete")
	}

	payload := map[string]interface{}{
		"email_addresses": []string{email},
		"role":            model.MemberRoleStandard,
		"resend_emails":   true,
	}

	body, err := c.call(ctx, http.MethodPost, accountPath(creds, "invites"), creds, payload, func(a model.InvitationAttempt) {
		result.Attempts = append(result.Attempts, a)
	})
	if err != nil {
		return result, model.ExternalServiceError(err, "invite %s", email)
	}

	if id, err := lookupString(body, inviteIDPath); err == nil {
		result.InviteID = id
	}
	return result, nil
}

// ListMembers pages through the account's users
func (c *Client) ListMembers(ctx context.Context, creds model.Credentials) ([]model.Member, int, error) {
	if !creds.Valid() {
		return nil, 0, model.ValidationError("group credentials are incomplete")
	}

	var members []model.Member
	total := 0

	for page := 0; page < maxMemberPages; page++ {
		path := fmt.Sprintf("%s?offset=%d&limit=%d", accountPath(creds, "users"), page*memberPageSize, memberPageSize)
		body, err := c.call(ctx, http.MethodGet, path, creds, nil, nil)
		if err != nil {
			return nil, 0, model.ExternalServiceError(err, "list members of %s", creds.AccountID)
		}

		items, pageTotal, err := parseItems(body)
		if err != nil {
			return nil, 0, model.ExternalServiceError(err, "decode members of %s", creds.AccountID)
		}
		total = pageTotal

		for _, item := range items {
			members = append(members, memberFromItem(item))
		}
		if len(items) < memberPageSize || len(members) >= total {
			break
		}
	}

	if total < len(members) {
		total = len(members)
	}
	return members, total, nil
}

// RemoveMember deletes one user from the account
func (c *Client) RemoveMember(ctx context.Context, creds model.Credentials, memberID string) error {
	if !creds.Valid() {
		return model.ValidationError("group credentials are incomplete")
	}
	if strings.TrimSpace(memberID) == "" {
		return model.ValidationError("member id is required")
	}

	path := accountPath(creds, "users/"+url.PathEscape(memberID))
	if _, err := c.call(ctx, http.MethodDelete, path, creds, nil, nil); err != nil {
		return model.ExternalServiceError(err, "remove member %s from %s", memberID, creds.AccountID)
	}
	return nil
}

// CountInvites returns the pending invitation total
func (c *Client) CountInvites(ctx context.Context, creds model.Credentials) (int, error) {
	if !creds.Valid() {
		return 0, model.ValidationError("group credentials are incomplete")
	}

	path := accountPath(creds, "invites") + "?offset=0&limit=1"
	body, err := c.call(ctx, http.MethodGet, path, creds, nil, nil)
	if err != nil {
		return 0, model.ExternalServiceError(err, "count invites of %s", creds.AccountID)
	}

	_, total, err := parseItems(body)
	if err != nil {
		return 0, model.ExternalServiceError(err, "decode invites of %s", creds.AccountID)
	}
	return total, nil
}

// call performs one logical request under the retry policy. record, when
// set, receives every attempt.
func (c *Client) call(
	ctx context.Context,
	method, path string,
	creds model.Credentials,
	payload interface{},
	record func(model.InvitationAttempt),
) ([]byte, error) {
	if !c.breaker.Allow() {
		slog.Warn("Circuit breaker is open, skipping invite API call",
			"method", method,
			"path", path,
			"circuit_state", c.breaker.State().String(),
		)
		return nil, retry.ErrOpen
	}

	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	var body []byte
	err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		a, respBody, err := c.do(ctx, method, path, creds, encoded)
		a.AttemptNumber = attempt
		if record != nil {
			record(a)
		}
		if err != nil {
			slog.Warn("Invite API attempt failed",
				"method", method,
				"path", path,
				"attempt", attempt,
				"status_code", a.StatusCode,
				"error", err,
			)
			return err
		}
		body = respBody
		return nil
	})

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.breaker.Failure()
		}
		return nil, err
	}

	c.breaker.Success()
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, creds model.Credentials, payload []byte) (model.InvitationAttempt, []byte, error) {
	start := time.Now()
	attempt := model.InvitationAttempt{Timestamp: start.UTC()}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		attempt.Error = fmt.Sprintf("failed to create request: %v", err)
		return attempt, nil, retry.Permanent(err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Chatgpt-Account-Id", creds.AccountID)
	if creds.DeviceID != "" {
		req.Header.Set("Oai-Device-Id", creds.DeviceID)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		attempt.Error = fmt.Sprintf("request failed: %v", err)
		attempt.DurationMs = time.Since(start).Milliseconds()
		return attempt, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		slog.Warn("Failed to read invite API response body", "error", err)
	}

	attempt.StatusCode = resp.StatusCode
	attempt.ResponseBody = truncate(string(body), 1024)
	attempt.DurationMs = time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &retry.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		attempt.Error = statusErr.Error()
		return attempt, nil, statusErr
	}

	return attempt, body, nil
}

func accountPath(creds model.Credentials, suffix string) string {
	return "/accounts/" + url.PathEscape(creds.AccountID) + "/" + suffix
}

func decode(body []byte) (interface{}, error) {
	var data interface{}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]interface{}{}, nil
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return data, nil
}

func lookup(data interface{}, expression string) (interface{}, error) {
	pattern, err := jsonpath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression '%s': %w", expression, err)
	}
	return pattern.Lookup(data)
}

func lookupString(body []byte, expression string) (string, error) {
	data, err := decode(body)
	if err != nil {
		return "", err
	}
	v, err := lookup(data, expression)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string", expression)
	}
	return s, nil
}

// parseItems extracts the items array and total from a list response.
// A missing total falls back to the item count.
func parseItems(body []byte) ([]map[string]interface{}, int, error) {
	data, err := decode(body)
	if err != nil {
		return nil, 0, err
	}

	var items []map[string]interface{}
	if raw, err := lookup(data, itemsPath); err == nil {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, 0, fmt.Errorf("items is not an array")
		}
		for _, v := range list {
			if m, ok := v.(map[string]interface{}); ok {
				items = append(items, m)
			}
		}
	}

	total := len(items)
	if raw, err := lookup(data, totalPath); err == nil {
		if f, ok := raw.(float64); ok && f >= 0 {
			total = int(f)
		}
	}

	return items, total, nil
}

func memberFromItem(item map[string]interface{}) model.Member {
	m := model.Member{
		ID:    stringField(item, "id"),
		Email: stringField(item, "email"),
		Role:  stringField(item, "role"),
	}
	for _, key := range []string{"created_time", "joined_at"} {
		if s := stringField(item, key); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				m.JoinedAt = t.UTC()
				break
			}
		}
	}
	return m
}

func stringField(item map[string]interface{}, key string) string {
	if s, ok := item[key].(string); ok {
		return s
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
