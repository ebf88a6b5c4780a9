package models

import (
	"strings"
	"testing"
)

func TestNewAuthenticated(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		user    User
		wantErr bool
	}{
		{
			name:    "valid session",
			token:   "t1",
			user:    User{Username: "alice", FullName: "Alice A"},
			wantErr: false,
		},
		{
			name:    "empty token",
			token:   "",
			user:    User{Username: "alice"},
			wantErr: true,
		},
		{
			name:    "empty username",
			token:   "t1",
			user:    User{FullName: "Alice A"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewAuthenticated(tt.token, tt.user)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAuthenticated() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && s.IsAuthenticated() {
				t.Error("failed construction must yield an anonymous session")
			}
		})
	}
}

func TestSessionUserPresentIffAuthenticated(t *testing.T) {
	anon := AnonymousSession()
	if anon.User() != nil || anon.Token() != "" || anon.IsAuthenticated() {
		t.Errorf("anonymous session must carry no user or token")
	}

	s, err := NewAuthenticated("t1", User{Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if s.User() == nil || s.User().Username != "alice" {
		t.Errorf("authenticated session must expose its user")
	}

	// Mutating the returned user must not leak back into the session.
	s.User().Username = "mallory"
	if s.User().Username != "alice" {
		t.Errorf("session user was mutated through accessor")
	}
}

func TestImageFileValidate(t *testing.T) {
	f := NewImageFile("scan.png", []byte("\x89PNG\r\n\x1a\nrest"))
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if f.ID == "" {
		t.Error("expected generated ID")
	}
	if f.MIMEType != "image/png" {
		t.Errorf("expected image/png, got %s", f.MIMEType)
	}
	if !strings.HasPrefix(f.PreviewURL(), "data:image/png;base64,") {
		t.Errorf("unexpected preview URL prefix: %s", f.PreviewURL()[:30])
	}

	empty := ImageFile{Name: "empty.png"}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestBatchResultSetValidate(t *testing.T) {
	interp := &Interpretation{Category: CategoryGlioma}
	items := []BatchItem{
		{File: ImageFile{Name: "a.jpg"}, Raw: &RawPrediction{}, Interpretation: interp, Resolved: true},
		{File: ImageFile{Name: "b.jpg"}},
	}

	tests := []struct {
		name    string
		set     BatchResultSet
		wantErr bool
	}{
		{
			name:    "valid",
			set:     BatchResultSet{Items: items, Summary: BatchSummary{Total: 2, TumorDetected: 1, Unresolved: 1}},
			wantErr: false,
		},
		{
			name:    "total mismatch",
			set:     BatchResultSet{Items: items, Summary: BatchSummary{Total: 1, TumorDetected: 1, Unresolved: 1}},
			wantErr: true,
		},
		{
			name:    "counts mismatch",
			set:     BatchResultSet{Items: items, Summary: BatchSummary{Total: 2, TumorDetected: 2}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeverityLabel(t *testing.T) {
	if SeverityHigh.Label() != "High Risk" {
		t.Errorf("unexpected label %s", SeverityHigh.Label())
	}
	if SeverityModerate.Label() != "Moderate Risk" {
		t.Errorf("unexpected label %s", SeverityModerate.Label())
	}
	if SeverityLow.Label() != "Low Risk" {
		t.Errorf("unexpected label %s", SeverityLow.Label())
	}
}
