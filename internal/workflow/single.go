// Package workflow drives image submissions from selection to an interpreted result.
//
// Single handles one image at a time; Batch handles a multi-image submission and correlates
// the server's results back to the submitted files. Both capture the session epoch before a
// request and refuse to apply a response once the session has moved on.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rewired-gh/brainscan/internal/api"
	"github.com/rewired-gh/brainscan/internal/interpret"
	"github.com/rewired-gh/brainscan/internal/logger"
	"github.com/rewired-gh/brainscan/internal/models"
	"github.com/rewired-gh/brainscan/internal/session"
)

var (
	// ErrBusy is returned when a submission is already in flight.
	ErrBusy = errors.New("a submission is already in progress")
	// ErrStaleResponse is returned when a response arrived for a session or selection that is gone.
	ErrStaleResponse = errors.New("response discarded: session or selection changed while in flight")
)

// Predictor is the subset of the API client the workflows use.
type Predictor interface {
	Predict(ctx context.Context, token string, file models.ImageFile) (*models.RawPrediction, error)
	DebugPredict(ctx context.Context, token string, file models.ImageFile) (json.RawMessage, error)
	PredictBatch(ctx context.Context, token string, files []models.ImageFile) (*api.BatchResult, error)
}

// SessionGate exposes the session state the workflows need.
type SessionGate interface {
	Snapshot() (models.Session, uint64)
	Current(epoch uint64) bool
	HandleAuthFailure(epoch uint64, err error) error
}

// Refresher re-reads history after a successful submission.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Notifier is told about every completed single-image prediction.
type Notifier interface {
	NotifyPrediction(ctx context.Context, result models.PredictionResult) error
}

// State is the single-image workflow state.
type State int

// Workflow states.
const (
	StateIdle State = iota
	StateFileSelected
	StateSubmitting
	StateResultReady
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFileSelected:
		return "file-selected"
	case StateSubmitting:
		return "submitting"
	case StateResultReady:
		return "result-ready"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Single is the single-image prediction workflow.
type Single struct {
	api      Predictor
	session  SessionGate
	history  Refresher
	notifier Notifier

	mu         sync.Mutex
	state      State
	file       *models.ImageFile
	preview    string
	result     *models.PredictionResult
	err        error
	debug      json.RawMessage
	generation uint64
}

// NewSingle creates an idle workflow. history and notifier may be nil.
func NewSingle(p Predictor, s SessionGate, history Refresher, notifier Notifier) *Single {
	return &Single{api: p, session: s, history: history, notifier: notifier}
}

// Select replaces the selected image and drops any result, error or debug output.
// A submission already in flight is not cancelled, but its response will be discarded.
func (w *Single) Select(file models.ImageFile) error {
	if err := file.Validate(); err != nil {
		return &api.ValidationError{Field: "image", Message: err.Error()}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.generation++
	w.file = &file
	w.preview = file.PreviewURL()
	w.result = nil
	w.err = nil
	w.debug = nil
	if w.state != StateSubmitting {
		w.state = StateFileSelected
	}
	logger.Debug("Selected %s (%d bytes, %s)", file.Name, file.Size, file.MIMEType)
	return nil
}

// Submit sends the selected image for prediction and interprets the result.
func (w *Single) Submit(ctx context.Context) (*models.PredictionResult, error) {
	w.mu.Lock()
	if w.state == StateSubmitting {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	if w.file == nil {
		w.mu.Unlock()
		return nil, &api.ValidationError{Field: "image", Message: "Please select an image first"}
	}
	sess, epoch := w.session.Snapshot()
	if !sess.IsAuthenticated() {
		w.mu.Unlock()
		return nil, session.ErrNotAuthenticated
	}
	file := *w.file
	gen := w.generation
	w.state = StateSubmitting
	w.err = nil
	w.mu.Unlock()

	raw, err := w.api.Predict(ctx, sess.Token(), file)
	if err != nil {
		// May clear the session, which calls Reset; w.mu must not be held here.
		err = w.session.HandleAuthFailure(epoch, err)
	}

	if errors.Is(err, session.ErrSessionExpired) {
		w.settle()
		return nil, err
	}
	if !w.session.Current(epoch) {
		logger.Debug("Discarding prediction for %s: session changed", file.Name)
		w.settle()
		return nil, ErrStaleResponse
	}

	w.mu.Lock()
	if gen != w.generation {
		w.settleLocked()
		w.mu.Unlock()
		logger.Debug("Discarding prediction for %s: selection changed", file.Name)
		return nil, ErrStaleResponse
	}
	if err != nil {
		w.state = StateErrored
		w.err = err
		w.mu.Unlock()
		logger.WithField("file", file.Name).Warnf("Prediction failed: %v", err)
		return nil, err
	}
	result := models.PredictionResult{
		File:           file,
		Raw:            *raw,
		Interpretation: interpret.InterpretRaw(*raw),
		CompletedAt:    time.Now(),
	}
	w.result = &result
	w.state = StateResultReady
	w.mu.Unlock()

	logger.Info("Prediction for %s: %s (%.1f%%, %s)",
		file.Name, result.Interpretation.Title, result.Interpretation.Confidence, result.Interpretation.ConfidenceTier)

	if w.history != nil {
		if err := w.history.Refresh(ctx); err != nil {
			logger.Warn("Failed to refresh history: %v", err)
		}
	}
	if w.notifier != nil {
		if err := w.notifier.NotifyPrediction(ctx, result); err != nil {
			logger.Warn("Failed to send notification: %v", err)
		}
	}
	return &result, nil
}

// Debug sends the selected image to the diagnostic endpoint and keeps the raw response.
// The session token is attached when present; the endpoint does not require it.
func (w *Single) Debug(ctx context.Context) (json.RawMessage, error) {
	w.mu.Lock()
	if w.file == nil {
		w.mu.Unlock()
		return nil, &api.ValidationError{Field: "image", Message: "Please select an image first"}
	}
	file := *w.file
	gen := w.generation
	w.mu.Unlock()

	sess, _ := w.session.Snapshot()
	body, err := w.api.DebugPredict(ctx, sess.Token(), file)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation {
		return nil, ErrStaleResponse
	}
	w.debug = body
	return body, nil
}

// DismissError returns an errored workflow to file-selected.
func (w *Single) DismissError() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateErrored {
		w.err = nil
		w.state = StateFileSelected
	}
}

// Clear drops the selection and everything derived from it.
func (w *Single) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generation++
	w.file = nil
	w.preview = ""
	w.result = nil
	w.err = nil
	w.debug = nil
	if w.state != StateSubmitting {
		w.state = StateIdle
	}
}

// Reset is Clear for session changes. It is registered as a session clear hook.
func (w *Single) Reset() {
	w.Clear()
}

// State returns the current workflow state.
func (w *Single) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Selected returns the selected image, or nil.
func (w *Single) Selected() *models.ImageFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	f := *w.file
	return &f
}

// Preview returns the data URL of the selected image.
func (w *Single) Preview() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.preview
}

// Result returns the last completed prediction, or nil.
func (w *Single) Result() *models.PredictionResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Err returns the error that put the workflow in the errored state.
func (w *Single) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// DebugOutput returns the raw diagnostic response, unmodified.
func (w *Single) DebugOutput() json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.debug
}

func (w *Single) settle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settleLocked()
}

// settleLocked leaves the submitting state after a discarded response.
func (w *Single) settleLocked() {
	if w.state != StateSubmitting {
		return
	}
	if w.file != nil {
		w.state = StateFileSelected
	} else {
		w.state = StateIdle
	}
}
