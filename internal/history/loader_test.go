package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/brainscan/internal/api"
	"github.com/rewired-gh/brainscan/internal/apitest"
	"github.com/rewired-gh/brainscan/internal/models"
	"github.com/rewired-gh/brainscan/internal/session"
	"github.com/rewired-gh/brainscan/internal/storage"
)

func setup(t *testing.T, limit int) (*Loader, *session.Manager, *apitest.Server, *api.Client) {
	t.Helper()
	srv := apitest.New(t)
	store, err := storage.New(":memory:", "")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	client := api.NewClient(srv.URL, 5*time.Second, api.ClientConfig{})
	m := session.NewManager(client, store)
	l := NewLoader(client, m, limit)
	m.OnCleared(l.Reset)
	return l, m, srv, client
}

func login(t *testing.T, m *session.Manager, srv *apitest.Server) {
	t.Helper()
	srv.AddAccount(models.User{Username: "alice"}, "secret")
	if _, err := m.Login(context.Background(), api.Credentials{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
}

func TestRefreshWithoutSessionIsNoop(t *testing.T) {
	l, _, srv, _ := setup(t, 10)

	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if srv.Calls("/api/predictions/history")+srv.Calls("/api/analytics/summary") != 0 {
		t.Error("Expected no requests without a session")
	}
}

func TestRefreshLoadsHistoryAndAnalytics(t *testing.T) {
	l, m, srv, _ := setup(t, 2)
	login(t, m, srv)
	srv.SetHistory([]map[string]interface{}{
		{"timestamp": "2025-01-01 10:00:00", "filename": "a.png", "prediction": "No Tumor", "confidence": 0.8},
		{"timestamp": "2025-01-01 11:00:00", "filename": "b.png", "prediction": "Tumor: glioma", "confidence": 0.9},
		{"timestamp": "2025-01-01 12:00:00", "filename": "c.png", "prediction": "Tumor: pituitary", "confidence": 0.7},
	})
	srv.SetAnalytics(map[string]interface{}{
		"total_predictions":    3,
		"tumor_detected":       2,
		"no_tumor_detected":    1,
		"tumor_detection_rate": "66.7%",
	})

	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected entries capped at limit 2, got %d", len(entries))
	}
	if entries[1].Filename != "c.png" {
		t.Errorf("Expected most recent entries kept, got %+v", entries)
	}
	a := l.Analytics()
	if a == nil || a.TotalPredictions != 3 || a.TumorDetected != 2 {
		t.Errorf("Unexpected analytics %+v", a)
	}
	if l.RefreshedAt().IsZero() {
		t.Error("Expected refresh time recorded")
	}
}

func TestRefreshAppliesReadsIndependently(t *testing.T) {
	l, m, srv, _ := setup(t, 10)
	login(t, m, srv)
	srv.SetHistory([]map[string]interface{}{
		{"timestamp": "t", "filename": "a.png", "prediction": "No Tumor", "confidence": 0.8},
	})
	srv.Force("/api/analytics/summary", http.StatusInternalServerError, map[string]string{"error": "db down"})

	err := l.Refresh(context.Background())
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("Expected analytics error reported, got %v", err)
	}
	if len(l.Entries()) != 1 {
		t.Error("History must be applied even when analytics fails")
	}
	if l.Analytics() != nil {
		t.Error("Expected analytics unavailable")
	}
}

func TestRefreshUnauthorizedExpiresSession(t *testing.T) {
	l, m, srv, _ := setup(t, 10)
	login(t, m, srv)
	srv.SetHistory([]map[string]interface{}{
		{"timestamp": "t", "filename": "a.png", "prediction": "No Tumor", "confidence": 0.8},
	})
	srv.SetAnalytics(map[string]interface{}{"total_predictions": 1, "no_tumor_detected": 1})
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(l.Entries()) != 1 || l.Analytics() == nil {
		t.Fatal("Expected history and analytics loaded before expiry")
	}

	srv.Force("/api/analytics/summary", http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
	err := l.Refresh(context.Background())
	if !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
	if sess, _ := m.Snapshot(); sess.IsAuthenticated() {
		t.Error("Expected session cleared")
	}
	if len(l.Entries()) != 0 {
		t.Errorf("Expected history dropped, got %+v", l.Entries())
	}
	if l.Analytics() != nil {
		t.Errorf("Expected analytics dropped, got %+v", l.Analytics())
	}
	if !l.RefreshedAt().IsZero() {
		t.Error("Expected refresh time reset")
	}
}

func TestRefreshDropsLateResults(t *testing.T) {
	l, m, srv, _ := setup(t, 10)
	login(t, m, srv)
	srv.SetHistory([]map[string]interface{}{
		{"timestamp": "t", "filename": "a.png", "prediction": "No Tumor", "confidence": 0.8},
	})
	arrived, release := srv.Hold("/api/predictions/history")
	t.Cleanup(release)

	done := make(chan error, 1)
	go func() { done <- l.Refresh(context.Background()) }()

	<-arrived
	m.Clear()
	release()

	if err := <-done; err != nil {
		t.Fatalf("Expected silent drop, got %v", err)
	}
	if len(l.Entries()) != 0 || l.Analytics() != nil {
		t.Error("Results for a cleared session must not be applied")
	}
}

func TestSystemInfoLoader(t *testing.T) {
	_, _, _, client := setup(t, 10)

	info, err := NewSystemInfoLoader(client).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !strings.Contains(string(info.Health), "healthy") {
		t.Errorf("Unexpected health %s", info.Health)
	}
	if !strings.Contains(string(info.Classes), "meningioma") {
		t.Errorf("Unexpected classes %s", info.Classes)
	}
	if len(info.Model) == 0 {
		t.Error("Expected model info")
	}
}

func TestChartsLoader(t *testing.T) {
	_, _, _, client := setup(t, 10)

	set, err := NewChartsLoader(client).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sizes := ChartSizes(set)
	if sizes["prediction_distribution"] != 8 {
		t.Errorf("Expected 8 decoded bytes, got %v", sizes)
	}
	data, err := DecodeChart(set, "prediction_distribution")
	if err != nil || string(data[1:4]) != "PNG" {
		t.Errorf("Expected PNG header, got %q (%v)", data, err)
	}
	if _, err := DecodeChart(set, "missing"); err == nil {
		t.Error("Expected error for unknown chart")
	}
}

type badCharts struct{}

func (badCharts) Charts(ctx context.Context) (map[string]string, error) {
	return map[string]string{"ok": "iVBORw0KGgo=", "broken": "%%%"}, nil
}

func (badCharts) Statistics(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"total_predictions":0}`), nil
}

func TestChartsLoaderDropsInvalidPayloads(t *testing.T) {
	set, err := NewChartsLoader(badCharts{}).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("Expected invalid chart reported, got %v", err)
	}
	if _, ok := set.Charts["broken"]; ok {
		t.Error("Invalid chart must be dropped")
	}
	if _, ok := set.Charts["ok"]; !ok {
		t.Error("Valid chart must be kept")
	}
	if len(set.Statistics) == 0 {
		t.Error("Statistics must load independently of charts")
	}
}

type namedCharts map[string]string

func (c namedCharts) Charts(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out, nil
}

func (namedCharts) Statistics(ctx context.Context) (json.RawMessage, error) {
	return nil, nil
}

func TestChartsLoaderDropsUnsafeNames(t *testing.T) {
	charts := namedCharts{
		"good":         "iVBORw0KGgo=",
		"../escaped":   "iVBORw0KGgo=",
		"/abs":         "iVBORw0KGgo=",
		`..\win`:       "iVBORw0KGgo=",
		"nested/chart": "iVBORw0KGgo=",
		"":             "iVBORw0KGgo=",
	}
	set, err := NewChartsLoader(charts).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "../escaped") {
		t.Fatalf("Expected unsafe name reported, got %v", err)
	}
	if len(set.Charts) != 1 {
		t.Errorf("Expected only the plain name kept, got %v", set.Charts)
	}
	if _, ok := set.Charts["good"]; !ok {
		t.Error("Plain chart name must be kept")
	}
}

func TestSafeChartName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"prediction_distribution", true},
		{"confidence.v2", true},
		{"", false},
		{"..", false},
		{"../escaped", false},
		{"/etc/passwd", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		if got := SafeChartName(tt.name); got != tt.want {
			t.Errorf("SafeChartName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
