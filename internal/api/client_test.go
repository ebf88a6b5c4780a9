package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/brainscan/internal/apitest"
	"github.com/rewired-gh/brainscan/internal/models"
)

func newTestClient(url string) *Client {
	return NewClient(url, 5*time.Second, ClientConfig{MaxRetries: 2, RetryWaitTime: 10 * time.Millisecond})
}

func TestLogin(t *testing.T) {
	srv := apitest.New(t)
	srv.AddAccount(models.User{Username: "alice", FullName: "Alice A"}, "secret")
	client := newTestClient(srv.URL)
	ctx := context.Background()

	res, err := client.Login(ctx, Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Token == "" {
		t.Error("Expected token")
	}
	if res.User.FullName != "Alice A" {
		t.Errorf("Expected full name 'Alice A', got '%s'", res.User.FullName)
	}

	_, err = client.Login(ctx, Credentials{Username: "alice", Password: "wrong"})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthError, got %v", err)
	}
	if authErr.Error() != "Invalid username or password" {
		t.Errorf("Expected server message verbatim, got '%s'", authErr.Error())
	}
}

func TestRegister(t *testing.T) {
	srv := apitest.New(t)
	client := newTestClient(srv.URL)
	ctx := context.Background()

	profile := Profile{Username: "bob", Email: "bob@example.org", Password: "hunter22", FullName: "Bob B"}
	msg, err := client.Register(ctx, profile)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if msg != "Registration successful! Please login." {
		t.Errorf("Unexpected message: %s", msg)
	}

	_, err = client.Register(ctx, profile)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("Expected 409 APIError, got %v", err)
	}
	if Describe(err) != "Username already exists" {
		t.Errorf("Unexpected description: %s", Describe(err))
	}
}

func TestVerify(t *testing.T) {
	srv := apitest.New(t)
	srv.IssueToken("t1", models.User{Username: "alice"})
	client := newTestClient(srv.URL)

	user, err := client.Verify(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Expected alice, got %s", user.Username)
	}
	if srv.Authorization("/api/auth/verify") != "Bearer t1" {
		t.Errorf("Expected bearer header, got %q", srv.Authorization("/api/auth/verify"))
	}

	_, err = client.Verify(context.Background(), "bogus")
	if !IsUnauthorized(err) {
		t.Errorf("Expected unauthorized, got %v", err)
	}
}

func TestPredictNormalizesConfidence(t *testing.T) {
	srv := apitest.New(t)
	srv.IssueToken("t1", models.User{Username: "alice"})
	srv.SetPredict(map[string]interface{}{"prediction": "glioma_tumor", "confidence_percentage": 92.3})
	client := newTestClient(srv.URL)

	file := models.NewImageFile("scan.jpg", []byte("\xff\xd8\xff\xe0 jpeg bytes"))
	raw, err := client.Predict(context.Background(), "t1", file)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if raw.Label != "glioma_tumor" {
		t.Errorf("Unexpected label %s", raw.Label)
	}
	if !raw.ConfidenceValid || math.Abs(raw.Confidence-92.3) > 1e-9 {
		t.Errorf("Expected confidence 92.3, got %v (valid=%v)", raw.Confidence, raw.ConfidenceValid)
	}
	if raw.Filename != "scan.jpg" {
		t.Errorf("Expected filename scan.jpg, got %s", raw.Filename)
	}

	uploads := srv.Uploads("/api/predict")
	if len(uploads) != 1 || uploads[0].Field != "image" || string(uploads[0].Data) != string(file.Data) {
		t.Errorf("Unexpected upload: %+v", uploads)
	}
}

func TestPredictUnauthorized(t *testing.T) {
	srv := apitest.New(t)
	client := newTestClient(srv.URL)

	_, err := client.Predict(context.Background(), "expired", models.NewImageFile("a.jpg", []byte("x")))
	if !IsUnauthorized(err) {
		t.Fatalf("Expected unauthorized error, got %v", err)
	}
}

func TestPredictBatchSendsIDs(t *testing.T) {
	srv := apitest.New(t)
	srv.IssueToken("t1", models.User{Username: "alice"})
	client := newTestClient(srv.URL)

	files := []models.ImageFile{
		models.NewImageFile("a.jpg", []byte("aaa")),
		models.NewImageFile("b.jpg", []byte("bbb")),
	}
	res, err := client.PredictBatch(context.Background(), "t1", files)
	if err != nil {
		t.Fatalf("PredictBatch failed: %v", err)
	}
	if res.TotalImages != 2 || len(res.Results) != 2 {
		t.Fatalf("Unexpected batch result: %+v", res)
	}
	if math.Abs(res.Results[0].Confidence-91) > 1e-9 {
		t.Errorf("Expected confidence 91 from confidence_score, got %v", res.Results[0].Confidence)
	}
	if res.Summary == nil || res.Summary.TumorDetected == nil || *res.Summary.TumorDetected != 2 {
		t.Errorf("Expected tumor_detected 2 in summary")
	}

	ids := srv.FormIDs("/api/predict/batch")
	if len(ids) != 2 || ids[0] != files[0].ID || ids[1] != files[1].ID {
		t.Errorf("Expected image_ids to carry file IDs, got %v", ids)
	}
	uploads := srv.Uploads("/api/predict/batch")
	if len(uploads) != 2 || uploads[0].Field != "images" {
		t.Errorf("Expected 2 parts under 'images', got %+v", uploads)
	}
}

func TestHistoryAcceptsBothShapes(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"predictions key", "predictions"},
		{"recent_predictions key", "recent_predictions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/predictions/history" {
					t.Errorf("Expected history path, got %s", r.URL.Path)
				}
				if r.URL.Query().Get("limit") != "10" {
					t.Errorf("Expected limit=10, got %s", r.URL.Query().Get("limit"))
				}
				body := map[string]interface{}{
					tt.key: []map[string]interface{}{
						{"timestamp": "2026-01-01T10:00:00", "filename": "a.jpg", "result": "No Tumor", "confidence": 0.87, "method": "api"},
					},
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(body)
			}))
			defer mockServer.Close()

			client := newTestClient(mockServer.URL)
			entries, err := client.History(context.Background(), "t1", 10)
			if err != nil {
				t.Fatalf("History failed: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("Expected 1 entry, got %d", len(entries))
			}
			if math.Abs(entries[0].Confidence-87) > 1e-9 {
				t.Errorf("Expected confidence 87, got %v", entries[0].Confidence)
			}
		})
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var hits int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer mockServer.Close()

	client := newTestClient(mockServer.URL)
	body, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if string(body) != `{"status":"healthy"}` {
		t.Errorf("Unexpected body %s", body)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits)
	}
}

func TestPostIsNotRetried(t *testing.T) {
	var hits int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model crashed"}`))
	}))
	defer mockServer.Close()

	client := newTestClient(mockServer.URL)
	_, err := client.Predict(context.Background(), "t1", models.NewImageFile("a.jpg", []byte("x")))

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "model crashed" {
		t.Fatalf("Expected APIError with server message, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected a single attempt, got %d", hits)
	}
}

func TestTransportError(t *testing.T) {
	mockServer := httptest.NewServer(http.NotFoundHandler())
	url := mockServer.URL
	mockServer.Close()

	client := NewClient(url, time.Second, ClientConfig{MaxRetries: 0})
	_, err := client.Verify(context.Background(), "t1")
	if !IsTransport(err) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if IsUnauthorized(err) {
		t.Error("Transport failure must not look like an auth failure")
	}
	if Describe(err) != "Connection error. Please check that the server is reachable." {
		t.Errorf("Unexpected description: %s", Describe(err))
	}
}

func TestDebugPredictPassthrough(t *testing.T) {
	srv := apitest.New(t)
	client := newTestClient(srv.URL)

	raw, err := client.DebugPredict(context.Background(), "", models.NewImageFile("a.jpg", []byte("x")))
	if err != nil {
		t.Fatalf("DebugPredict failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Expected JSON passthrough: %v", err)
	}
	if decoded["predicted_class_index"] != float64(2) {
		t.Errorf("Expected raw diagnostic fields, got %v", decoded)
	}
	if srv.Authorization("/api/debug/prediction") != "" {
		t.Error("Expected no Authorization header without a token")
	}
}

func TestChartsAndSystemInfo(t *testing.T) {
	srv := apitest.New(t)
	client := newTestClient(srv.URL)
	ctx := context.Background()

	charts, err := client.Charts(ctx)
	if err != nil {
		t.Fatalf("Charts failed: %v", err)
	}
	if charts["prediction_distribution"] == "" {
		t.Errorf("Expected chart payload, got %v", charts)
	}

	for name, fn := range map[string]func(context.Context) (json.RawMessage, error){
		"classes":    client.Classes,
		"model":      client.ModelInfo,
		"statistics": client.Statistics,
	} {
		if _, err := fn(ctx); err != nil {
			t.Errorf("%s failed: %v", name, err)
		}
	}
}
