// Package api provides a client for the brain-MRI screening HTTP API.
// It covers authentication, single and batch prediction, history and analytics, and the
// unauthenticated system metadata endpoints.
//
// Responses are converted into internal models at this boundary: confidence values arrive in
// several scales and are normalized to a single 0..100 percentage before they leave the package.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rewired-gh/brainscan/internal/models"
)

// ClientConfig holds HTTP client tuning parameters
type ClientConfig struct {
	MaxRetries    int
	RetryWaitTime time.Duration
}

// Client provides access to the screening API
type Client struct {
	apiBaseURL string
	http       *resty.Client
	maxRetries int
	retryWait  time.Duration
}

// NewClient creates a new screening API client
func NewClient(apiBaseURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = time.Second
	}

	return &Client{
		apiBaseURL: apiBaseURL,
		http: resty.New().
			SetBaseURL(apiBaseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		maxRetries: cfg.MaxRetries,
		retryWait:  cfg.RetryWaitTime,
	}
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string {
	return c.apiBaseURL
}

// Credentials are the login form fields.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Profile is the registration form.
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

// LoginResult is a successful login.
type LoginResult struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// BatchSummary is the backend's own batch aggregate. Fields are pointers because older
// backends omit some of them.
type BatchSummary struct {
	TumorDetected     *int           `json:"tumor_detected"`
	NoTumor           *int           `json:"no_tumor"`
	ByTumorType       map[string]int `json:"by_tumor_type,omitempty"`
	AverageConfidence *float64       `json:"average_confidence"`
}

// BatchResult is the response to a batch submission.
type BatchResult struct {
	TotalImages int                    `json:"total_images"`
	Summary     *BatchSummary          `json:"batch_summary"`
	Results     []models.RawPrediction `json:"results"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type predictionBody struct {
	ID                   string             `json:"id"`
	Filename             string             `json:"filename"`
	Prediction           string             `json:"prediction"`
	Confidence           json.RawMessage    `json:"confidence"`
	ConfidenceScore      *float64           `json:"confidence_score"`
	ConfidencePercentage *float64           `json:"confidence_percentage"`
	ProcessingTime       *float64           `json:"processing_time"`
	Probabilities        map[string]float64 `json:"probabilities"`
}

func (p predictionBody) toModel() models.RawPrediction {
	conf, ok := normalizeConfidence(p.ConfidencePercentage, p.ConfidenceScore, p.Confidence)
	raw := models.RawPrediction{
		ID:              p.ID,
		Label:           p.Prediction,
		Confidence:      conf,
		ConfidenceValid: ok,
		Filename:        p.Filename,
		Probabilities:   p.Probabilities,
	}
	if p.ProcessingTime != nil {
		raw.ProcessingTime = *p.ProcessingTime
	}
	return raw
}

// Register creates an account. It returns the server's confirmation message.
func (c *Client) Register(ctx context.Context, profile Profile) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/register", "", func(r *resty.Request) {
		r.SetBody(profile)
	})
	if err != nil {
		return "", fmt.Errorf("failed to register: %w", err)
	}

	var body errorBody
	if err := decode(resp, &body, true); err != nil {
		return "", err
	}
	return body.Message, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", func(r *resty.Request) {
		r.SetBody(creds)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	var result LoginResult
	if err := decode(resp, &result, true); err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, &AuthError{Status: resp.StatusCode(), Message: "login response did not include a token"}
	}
	return &result, nil
}

// Logout notifies the server that the token is no longer in use.
func (c *Client) Logout(ctx context.Context, token string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil)
	if err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return decode(resp, nil, false)
}

// Verify checks the token. Any non-2xx response means the session is invalid.
func (c *Client) Verify(ctx context.Context, token string) (*models.User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/auth/verify", token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to verify session: %w", err)
	}

	var body struct {
		Valid bool         `json:"valid"`
		User  *models.User `json:"user"`
		Error string       `json:"error"`
	}
	if err := decode(resp, &body, true); err != nil {
		return nil, err
	}
	if !body.Valid {
		return nil, &AuthError{Status: http.StatusUnauthorized, Message: body.Error}
	}
	return body.User, nil
}

// Predict submits one image.
func (c *Client) Predict(ctx context.Context, token string, file models.ImageFile) (*models.RawPrediction, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/predict", token, func(r *resty.Request) {
		r.SetMultipartField("image", file.Name, file.MIMEType, bytes.NewReader(file.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit prediction: %w", err)
	}

	var body predictionBody
	if err := decode(resp, &body, false); err != nil {
		return nil, err
	}
	raw := body.toModel()
	if raw.Filename == "" {
		raw.Filename = file.Name
	}
	return &raw, nil
}

// DebugPredict submits one image to the diagnostic endpoint and returns its JSON unmodified.
// The token is optional.
func (c *Client) DebugPredict(ctx context.Context, token string, file models.ImageFile) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/debug/prediction", token, func(r *resty.Request) {
		r.SetMultipartField("image", file.Name, file.MIMEType, bytes.NewReader(file.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit debug prediction: %w", err)
	}
	if err := decode(resp, nil, false); err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body()), nil
}

// PredictBatch submits all files in one request. Each part is accompanied by an image_ids
// field so a backend that echoes "id" per result can be correlated without relying on names.
func (c *Client) PredictBatch(ctx context.Context, token string, files []models.ImageFile) (*BatchResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/predict/batch", token, func(r *resty.Request) {
		ids := url.Values{}
		for _, f := range files {
			r.SetMultipartField("images", f.Name, f.MIMEType, bytes.NewReader(f.Data))
			ids.Add("image_ids", f.ID)
		}
		r.SetFormDataFromValues(ids)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit batch: %w", err)
	}

	var body struct {
		TotalImages int              `json:"total_images"`
		Summary     *BatchSummary    `json:"batch_summary"`
		Results     []predictionBody `json:"results"`
	}
	if err := decode(resp, &body, false); err != nil {
		return nil, err
	}

	result := &BatchResult{
		TotalImages: body.TotalImages,
		Summary:     body.Summary,
		Results:     make([]models.RawPrediction, 0, len(body.Results)),
	}
	for _, p := range body.Results {
		result.Results = append(result.Results, p.toModel())
	}
	return result, nil
}

// History returns the most recent predictions for the session user.
func (c *Client) History(ctx context.Context, token string, limit int) ([]models.HistoryEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/predictions/history", token, func(r *resty.Request) {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	type entry struct {
		Timestamp  string          `json:"timestamp"`
		Filename   string          `json:"filename"`
		Result     string          `json:"result"`
		Prediction string          `json:"prediction"`
		Confidence json.RawMessage `json:"confidence"`
		Method     string          `json:"method"`
	}
	var body struct {
		Predictions       []entry `json:"predictions"`
		RecentPredictions []entry `json:"recent_predictions"`
	}
	if err := decode(resp, &body, false); err != nil {
		return nil, err
	}

	src := body.Predictions
	if src == nil {
		src = body.RecentPredictions
	}
	entries := make([]models.HistoryEntry, 0, len(src))
	for _, e := range src {
		result := e.Result
		if result == "" {
			result = e.Prediction
		}
		conf, _ := parseConfidence(e.Confidence)
		entries = append(entries, models.HistoryEntry{
			Timestamp:  e.Timestamp,
			Filename:   e.Filename,
			Result:     result,
			Confidence: conf,
			Method:     e.Method,
		})
	}
	return entries, nil
}

// Analytics returns the aggregate summary for the session user.
func (c *Client) Analytics(ctx context.Context, token string) (*models.Analytics, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/analytics/summary", token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch analytics: %w", err)
	}

	var a models.Analytics
	if err := decode(resp, &a, false); err != nil {
		return nil, err
	}
	a.Raw = json.RawMessage(resp.Body())
	return &a, nil
}

// Health returns the backend health document.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/health")
}

// Classes returns the class list document.
func (c *Client) Classes(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/classes")
}

// ModelInfo returns the model metadata document.
func (c *Client) ModelInfo(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/model/info")
}

// Statistics returns the backend's result statistics document.
func (c *Client) Statistics(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/results/statistics")
}

// Charts returns backend-rendered charts as base64 payloads keyed by chart name.
func (c *Client) Charts(ctx context.Context) (map[string]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/results/charts", "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch charts: %w", err)
	}

	var body struct {
		Charts map[string]string `json:"charts"`
	}
	if err := decode(resp, &body, false); err != nil {
		return nil, err
	}
	return body.Charts, nil
}

func (c *Client) getRaw(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	if err := decode(resp, nil, false); err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body()), nil
}

// do performs an HTTP request. GET requests are retried on transport failures and 5xx
// responses; other methods are sent once since predictions are recorded server-side.
func (c *Client) do(ctx context.Context, method, path, token string, build func(*resty.Request)) (*resty.Response, error) {
	attempts := 1
	if method == http.MethodGet {
		attempts += c.maxRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, c.retryWait*time.Duration(i)); err != nil {
				return nil, err
			}
		}

		req := c.http.R().SetContext(ctx)
		if token != "" {
			req.SetAuthToken(token)
		}
		if build != nil {
			build(req)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = &TransportError{Op: method + " " + path, Err: err}
			continue
		}

		if resp.StatusCode() >= 500 && i < attempts-1 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode())
			continue
		}

		return resp, nil
	}

	if attempts > 1 {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// decode maps the response onto out, translating non-2xx statuses into typed errors.
// authEndpoint widens AuthError to 403, which the login endpoint uses for disabled accounts.
func decode(resp *resty.Response, out interface{}, authEndpoint bool) error {
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		var body errorBody
		_ = json.Unmarshal(resp.Body(), &body)
		msg := body.Error
		if msg == "" {
			msg = body.Message
		}
		if status == http.StatusUnauthorized || (authEndpoint && status == http.StatusForbidden) {
			return &AuthError{Status: status, Message: msg}
		}
		return &APIError{Status: status, Message: msg}
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Describe renders err for display. Transport failures collapse to a generic message.
func Describe(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return "Connection error. Please check that the server is reachable."
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Error()
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
