package mindfork

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
//
// Exactly one credential pair is required: Email+Password for a user
// account, or KeyID+APIKey for a machine caller holding a service key.
type Config struct {
	// BaseURL is the root URL of the MindFork server (e.g. "http://localhost:8080").
	BaseURL string

	// Email and Password authenticate a user account.
	Email    string
	Password string

	// KeyID and APIKey authenticate a service key.
	KeyID  uuid.UUID
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the MindFork personalization API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or the credentials are missing.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mindfork: BaseURL is required")
	}
	hasUserCreds := cfg.Email != "" && cfg.Password != ""
	hasServiceCreds := cfg.KeyID != uuid.Nil && cfg.APIKey != ""
	if !hasUserCreds && !hasServiceCreds {
		return nil, fmt.Errorf("mindfork: Email+Password or KeyID+APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg, httpClient),
	}, nil
}

// Onboard creates a user account, seeding initial traits from questionnaire
// answers. It requires no credentials; the returned token can be used to
// build an authenticated Client (or the same email/password can).
func Onboard(ctx context.Context, baseURL string, req OnboardingRequest, httpClient *http.Client) (*OnboardingResponse, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mindfork: marshal onboarding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/v1/onboarding", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("mindfork: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mindfork: POST /v1/onboarding: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out OnboardingResponse
	if err := handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Personalization
// ---------------------------------------------------------------------------

// ResolveLayout resolves the layout and feature flags for a user and area
// (e.g. "home", "logging", "stats", "coach").
func (c *Client) ResolveLayout(ctx context.Context, userID uuid.UUID, area string) (*Resolution, error) {
	path := "/v1/users/" + userID.String() + "/layout?area=" + url.QueryEscape(area)
	var resp Resolution
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTraits returns every trait recorded for a user.
func (c *Client) GetTraits(ctx context.Context, userID uuid.UUID) ([]Trait, error) {
	var resp []Trait
	if err := c.get(ctx, "/v1/users/"+userID.String()+"/traits", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PutTraits upserts a batch of traits and returns the stored rows.
func (c *Client) PutTraits(ctx context.Context, userID uuid.UUID, traits []TraitInput) ([]Trait, error) {
	body := map[string]any{"traits": traits}
	var resp []Trait
	if err := c.put(ctx, "/v1/users/"+userID.String()+"/traits", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PutTrait upserts one trait by key.
func (c *Client) PutTrait(ctx context.Context, userID uuid.UUID, key, value string, confidence *float64) (*Trait, error) {
	body := map[string]any{"trait_value": value}
	if confidence != nil {
		body["confidence"] = *confidence
	}
	var resp Trait
	if err := c.put(ctx, "/v1/users/"+userID.String()+"/traits/"+url.PathEscape(key), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteTrait removes one trait. Returns nil on success (204 No Content).
func (c *Client) DeleteTrait(ctx context.Context, userID uuid.UUID, key string) error {
	return c.doDelete(ctx, "/v1/users/"+userID.String()+"/traits/"+url.PathEscape(key), nil)
}

// ---------------------------------------------------------------------------
// Meals and insights
// ---------------------------------------------------------------------------

// LogMeal records a meal and returns the gamification side effects (XP,
// streak) along with the stored meal.
func (c *Client) LogMeal(ctx context.Context, userID uuid.UUID, meal MealLogInput) (*LogMealResponse, error) {
	var resp LogMealResponse
	if err := c.post(ctx, "/v1/users/"+userID.String()+"/meals", meal, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMeals returns a page of the user's meal history, newest first.
func (c *Client) ListMeals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]MealLog, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/v1/users/" + userID.String() + "/meals"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []MealLog
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteMeal removes a logged meal. XP already awarded for it stays.
func (c *Client) DeleteMeal(ctx context.Context, userID, mealID uuid.UUID) error {
	return c.doDelete(ctx, "/v1/users/"+userID.String()+"/meals/"+mealID.String(), nil)
}

// DailyInsights returns the nutrition summary for one day.
// A zero day means today (server time).
func (c *Client) DailyInsights(ctx context.Context, userID uuid.UUID, day time.Time) (*DailySummary, error) {
	path := "/v1/users/" + userID.String() + "/insights/daily"
	if !day.IsZero() {
		path += "?date=" + day.Format("2006-01-02")
	}
	var resp DailySummary
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InsightsRange returns per-day summaries for [from, to]. Zero bounds fall
// back to the server default (trailing 30 days).
func (c *Client) InsightsRange(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]DailySummary, error) {
	params := url.Values{}
	if !from.IsZero() {
		params.Set("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("to", to.Format("2006-01-02"))
	}
	path := "/v1/users/" + userID.String() + "/insights/range"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []DailySummary
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

// GetProgress returns the user's XP, level, and streak state.
func (c *Client) GetProgress(ctx context.Context, userID uuid.UUID) (*Progress, error) {
	var resp Progress
	if err := c.get(ctx, "/v1/users/"+userID.String()+"/progress", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// XPHistory returns a page of the user's XP ledger, newest first.
func (c *Client) XPHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]XPEntry, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/v1/users/" + userID.String() + "/progress/history"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []XPEntry
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// AppendEvents submits a batch of client telemetry events. The server
// buffers them; Accepted reports how many passed validation.
func (c *Client) AppendEvents(ctx context.Context, events []EventInput) (*AppendEventsResponse, error) {
	body := map[string]any{"events": events}
	var resp AppendEventsResponse
	if err := c.post(ctx, "/v1/events", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Food catalog
// ---------------------------------------------------------------------------

// SearchFoods performs a food catalog search. Tags filter results when the
// semantic backend is active; a nil slice applies no filter.
func (c *Client) SearchFoods(ctx context.Context, query string, tags []string, limit int) ([]FoodSearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	if len(tags) > 0 {
		params.Set("tags", strings.Join(tags, ","))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp []FoodSearchResult
	if err := c.get(ctx, "/v1/foods/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetFood retrieves one catalog entry.
func (c *Client) GetFood(ctx context.Context, foodID uuid.UUID) (*Food, error) {
	var resp Food
	if err := c.get(ctx, "/v1/foods/"+foodID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Coach
// ---------------------------------------------------------------------------

// CoachPrompt returns the assembled coach system prompt for the caller.
func (c *Client) CoachPrompt(ctx context.Context) (*CoachPromptResponse, error) {
	var resp CoachPromptResponse
	if err := c.get(ctx, "/v1/coach/prompt", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPersonas lists the available coach personas.
func (c *Client) ListPersonas(ctx context.Context) ([]CoachPersona, error) {
	var resp []CoachPersona
	if err := c.get(ctx, "/v1/coach/personas", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateGrant grants a coach access to the given user's data. The caller
// must be that user (or an admin).
func (c *Client) CreateGrant(ctx context.Context, userID uuid.UUID, req CreateGrantRequest) (*CoachGrant, error) {
	var resp CoachGrant
	if err := c.post(ctx, "/v1/users/"+userID.String()+"/grants", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListGrants lists the user's coach grants.
func (c *Client) ListGrants(ctx context.Context, userID uuid.UUID) ([]CoachGrant, error) {
	var resp []CoachGrant
	if err := c.get(ctx, "/v1/users/"+userID.String()+"/grants", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RevokeGrant revokes a coach grant. Returns nil on success (204 No Content).
func (c *Client) RevokeGrant(ctx context.Context, userID, grantID uuid.UUID) error {
	return c.doDelete(ctx, "/v1/users/"+userID.String()+"/grants/"+grantID.String(), nil)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Token management
// ---------------------------------------------------------------------------

type tokenManager struct {
	baseURL  string
	email    string
	password string
	keyID    uuid.UUID
	apiKey   string
	client   *http.Client
	margin   time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenManager(baseURL string, cfg Config, client *http.Client) *tokenManager {
	return &tokenManager{
		baseURL:  baseURL,
		email:    cfg.Email,
		password: cfg.Password,
		keyID:    cfg.KeyID,
		apiKey:   cfg.APIKey,
		client:   client,
		margin:   30 * time.Second,
	}
}

func (tm *tokenManager) getToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && time.Now().Before(tm.expiresAt.Add(-tm.margin)) {
		return tm.token, nil
	}

	if err := tm.refresh(ctx); err != nil {
		return "", err
	}
	return tm.token, nil
}

type authResponseEnvelope struct {
	Data struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"data"`
}

func (tm *tokenManager) refresh(ctx context.Context) error {
	var path string
	var reqBody any
	if tm.email != "" {
		path = "/v1/auth/token"
		reqBody = map[string]string{"email": tm.email, "password": tm.password}
	} else {
		path = "/v1/auth/service-token"
		reqBody = map[string]any{"key_id": tm.keyID, "api_key": tm.apiKey}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("mindfork: marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mindfork: create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return fmt.Errorf("mindfork: auth request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	var envelope authResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("mindfork: decode auth response: %w", err)
	}

	tm.token = envelope.Data.Token
	tm.expiresAt = envelope.Data.ExpiresAt
	return nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mindfork: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("mindfork: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mindfork: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("mindfork: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("mindfork: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doDelete(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("mindfork: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("mindfork: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mindfork: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mindfork: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mindfork: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("mindfork: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
