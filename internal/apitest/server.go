// Package apitest provides an in-process fake of the screening API for tests.
// It implements the same routes as the real backend, backed by in-memory users and tokens,
// and lets tests override responses, force status codes, and hold requests in flight.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rewired-gh/brainscan/internal/models"
)

// Upload is one file part received by a multipart endpoint.
type Upload struct {
	Field    string
	Filename string
	Data     []byte
}

type forced struct {
	status int
	body   interface{}
}

type gate struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

type account struct {
	password string
	user     models.User
}

// Server is a fake screening backend.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	accounts  map[string]account
	tokens    map[string]models.User
	calls     map[string]int
	auth      map[string]string
	uploads   map[string][]Upload
	formIDs   map[string][]string
	forced    map[string]forced
	gates     map[string]*gate
	predict   map[string]interface{}
	batch     func(uploads []Upload, ids []string) map[string]interface{}
	history   []map[string]interface{}
	analytics map[string]interface{}
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		accounts: make(map[string]account),
		tokens:   make(map[string]models.User),
		calls:    make(map[string]int),
		auth:     make(map[string]string),
		uploads:  make(map[string][]Upload),
		formIDs:  make(map[string][]string),
		forced:   make(map[string]forced),
		gates:    make(map[string]*gate),
		predict: map[string]interface{}{
			"prediction":       "Tumor: glioma",
			"confidence":       "92.30%",
			"confidence_score": 0.923,
		},
		analytics: map[string]interface{}{
			"total_predictions": 0,
			"message":           "No predictions made yet",
		},
	}
	s.batch = echoBatch

	r := mux.NewRouter()
	r.Use(s.middleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodGet)
	api.HandleFunc("/predict", s.requireAuth(s.handlePredict)).Methods(http.MethodPost)
	api.HandleFunc("/predict/batch", s.requireAuth(s.handleBatch)).Methods(http.MethodPost)
	api.HandleFunc("/debug/prediction", s.handleDebug).Methods(http.MethodPost)
	api.HandleFunc("/predictions/history", s.requireAuth(s.handleHistory)).Methods(http.MethodGet)
	api.HandleFunc("/analytics/summary", s.requireAuth(s.handleAnalytics)).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleStatic(map[string]interface{}{"status": "healthy", "model_loaded": true})).Methods(http.MethodGet)
	api.HandleFunc("/classes", s.handleStatic(map[string]interface{}{
		"classes":       []string{"pituitary", "glioma", "notumor", "meningioma"},
		"total_classes": 4,
	})).Methods(http.MethodGet)
	api.HandleFunc("/model/info", s.handleStatic(map[string]interface{}{"model_type": "Brain Tumor Classification CNN"})).Methods(http.MethodGet)
	api.HandleFunc("/results/charts", s.handleStatic(map[string]interface{}{
		"charts": map[string]string{"prediction_distribution": "iVBORw0KGgo="},
	})).Methods(http.MethodGet)
	api.HandleFunc("/results/statistics", s.handleStatic(map[string]interface{}{"total_predictions": 0})).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// AddAccount registers a user that can log in with password.
func (s *Server) AddAccount(user models.User, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[user.Username] = account{password: password, user: user}
}

// IssueToken makes token valid for user.
func (s *Server) IssueToken(token string, user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = user
}

// RevokeTokens invalidates every issued token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]models.User)
}

// SetPredict overrides the /api/predict response body.
func (s *Server) SetPredict(body map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predict = body
}

// SetBatch overrides how /api/predict/batch builds its response.
func (s *Server) SetBatch(fn func(uploads []Upload, ids []string) map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = fn
}

// SetHistory sets the entries returned by the history endpoint.
func (s *Server) SetHistory(entries []map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = entries
}

// SetAnalytics sets the analytics summary body.
func (s *Server) SetAnalytics(body map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics = body
}

// Force makes every request to path return status with body until cleared with status 0.
func (s *Server) Force(path string, status int, body interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.forced, path)
		return
	}
	s.forced[path] = forced{status: status, body: body}
}

// Hold keeps the next request to path in flight. The returned channel is closed when the
// request arrives; calling release lets it complete.
func (s *Server) Hold(path string) (arrived <-chan struct{}, release func()) {
	g := &gate{arrived: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.gates[path] = g
	s.mu.Unlock()
	return g.arrived, func() { g.once.Do(func() { close(g.release) }) }
}

// Calls returns how many requests path has received.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Authorization returns the last Authorization header sent to path.
func (s *Server) Authorization(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth[path]
}

// Uploads returns the file parts of the last multipart request to path.
func (s *Server) Uploads(path string) []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads[path]...)
}

// FormIDs returns the image_ids values of the last batch request.
func (s *Server) FormIDs(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.formIDs[path]...)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		s.mu.Lock()
		s.calls[path]++
		s.auth[path] = r.Header.Get("Authorization")
		f, isForced := s.forced[path]
		g := s.gates[path]
		delete(s.gates, path)
		s.mu.Unlock()

		if g != nil {
			close(g.arrived)
			<-g.release
		}

		if isForced {
			writeJSON(w, f.status, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) userFor(r *http.Request) (models.User, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return models.User{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.tokens[strings.TrimPrefix(h, "Bearer ")]
	return u, ok
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.userFor(r); !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"fullName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if len(body.Password) < 6 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Password must be at least 6 characters long"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[body.Username]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Username already exists"})
		return
	}
	s.accounts[body.Username] = account{
		password: body.Password,
		user:     models.User{Username: body.Username, Email: body.Email, FullName: body.FullName},
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message":  "Registration successful! Please login.",
		"username": body.Username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Username and password are required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[creds.Username]
	if !ok || acct.password != creds.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid username or password"})
		return
	}
	token := fmt.Sprintf("token-%s-%d", creds.Username, len(s.tokens)+1)
	s.tokens[token] = acct.user
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Login successful!",
		"token":   token,
		"user":    acct.user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	h := r.Header.Get("Authorization")
	s.mu.Lock()
	delete(s.tokens, strings.TrimPrefix(h, "Bearer "))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFor(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"valid": false, "error": "Invalid or expired token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "user": u})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	uploads, _, err := s.readMultipart(r)
	if err != nil || len(uploads) != 1 || uploads[0].Field != "image" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No image provided"})
		return
	}

	s.mu.Lock()
	body := make(map[string]interface{}, len(s.predict)+1)
	for k, v := range s.predict {
		body[k] = v
	}
	s.mu.Unlock()
	if _, ok := body["filename"]; !ok {
		body["filename"] = uploads[0].Filename
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	uploads, _, err := s.readMultipart(r)
	if err != nil || len(uploads) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "No image provided", "debug": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename":              uploads[0].Filename,
		"prediction":            "No Tumor",
		"confidence":            0.81,
		"raw_predictions":       []float64{0.05, 0.1, 0.81, 0.04},
		"predicted_class_index": 2,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	uploads, ids, err := s.readMultipart(r)
	if err != nil || len(uploads) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No images provided"})
		return
	}
	s.mu.Lock()
	fn := s.batch
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, fn(uploads, ids))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entries := s.history
	s.mu.Unlock()
	if entries == nil {
		entries = []map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_predictions":  len(entries),
		"recent_predictions": entries,
		"limit":              r.URL.Query().Get("limit"),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body := s.analytics
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatic(body interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) readMultipart(r *http.Request) ([]Upload, []string, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, err
	}

	var uploads []Upload
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, nil, err
			}
			uploads = append(uploads, Upload{Field: field, Filename: fh.Filename, Data: data})
		}
	}
	ids := r.MultipartForm.Value["image_ids"]

	s.mu.Lock()
	s.uploads[r.URL.Path] = uploads
	s.formIDs[r.URL.Path] = ids
	s.mu.Unlock()
	return uploads, ids, nil
}

// echoBatch answers with one glioma result per uploaded file, shaped like the real backend.
func echoBatch(uploads []Upload, _ []string) map[string]interface{} {
	results := make([]map[string]interface{}, 0, len(uploads))
	for _, u := range uploads {
		results = append(results, map[string]interface{}{
			"filename":         u.Filename,
			"prediction":       "Tumor: glioma",
			"confidence":       "91.00%",
			"confidence_score": 0.91,
		})
	}
	return map[string]interface{}{
		"total_images": len(results),
		"results":      results,
		"batch_summary": map[string]interface{}{
			"tumor_detected": len(results),
			"no_tumor":       0,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
