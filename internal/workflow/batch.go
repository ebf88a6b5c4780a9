package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/brainscan/internal/api"
	"github.com/rewired-gh/brainscan/internal/interpret"
	"github.com/rewired-gh/brainscan/internal/logger"
	"github.com/rewired-gh/brainscan/internal/models"
	"github.com/rewired-gh/brainscan/internal/session"
)

// Batch is the multi-image prediction workflow. It shares nothing with Single.
type Batch struct {
	api     Predictor
	session SessionGate
	history Refresher

	mu         sync.Mutex
	files      []models.ImageFile
	submitting bool
	result     *models.BatchResultSet
	err        error
	generation uint64
}

// NewBatch creates an empty batch workflow. history may be nil.
func NewBatch(p Predictor, s SessionGate, history Refresher) *Batch {
	return &Batch{api: p, session: s, history: history}
}

// SelectBatch replaces the selected files and drops any previous result.
func (b *Batch) SelectBatch(files []models.ImageFile) error {
	for i := range files {
		if err := files[i].Validate(); err != nil {
			return &api.ValidationError{Field: "images", Message: fmt.Sprintf("%s: %v", files[i].Name, err)}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	b.files = append([]models.ImageFile(nil), files...)
	b.result = nil
	b.err = nil
	return nil
}

// SubmitBatch sends every selected file in one request and correlates the results.
func (b *Batch) SubmitBatch(ctx context.Context) (*models.BatchResultSet, error) {
	b.mu.Lock()
	if b.submitting {
		b.mu.Unlock()
		return nil, ErrBusy
	}
	if len(b.files) == 0 {
		b.mu.Unlock()
		return nil, &api.ValidationError{Field: "images", Message: "Please select at least one image"}
	}
	sess, epoch := b.session.Snapshot()
	if !sess.IsAuthenticated() {
		b.mu.Unlock()
		return nil, session.ErrNotAuthenticated
	}
	files := append([]models.ImageFile(nil), b.files...)
	gen := b.generation
	b.submitting = true
	b.err = nil
	b.mu.Unlock()

	res, err := b.api.PredictBatch(ctx, sess.Token(), files)
	if err != nil {
		err = b.session.HandleAuthFailure(epoch, err)
	}

	b.mu.Lock()
	b.submitting = false
	b.mu.Unlock()

	if errors.Is(err, session.ErrSessionExpired) {
		return nil, err
	}
	if !b.session.Current(epoch) {
		logger.Debug("Discarding batch of %d: session changed", len(files))
		return nil, ErrStaleResponse
	}

	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return nil, ErrStaleResponse
	}
	if err != nil {
		b.err = err
		b.mu.Unlock()
		logger.Warn("Batch prediction failed: %v", err)
		return nil, err
	}
	set := Correlate(files, res)
	b.result = &set
	b.mu.Unlock()

	logger.Info("Batch of %d: %d tumor, %d no tumor, %d unresolved",
		set.Summary.Total, set.Summary.TumorDetected, set.Summary.NoTumor, set.Summary.Unresolved)

	if b.history != nil {
		if err := b.history.Refresh(ctx); err != nil {
			logger.Warn("Failed to refresh history: %v", err)
		}
	}
	return &set, nil
}

// Files returns the selected files.
func (b *Batch) Files() []models.ImageFile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ImageFile(nil), b.files...)
}

// Result returns the last correlated batch, or nil.
func (b *Batch) Result() *models.BatchResultSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// Err returns the last batch failure.
func (b *Batch) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Reset drops the selection and result. It is registered as a session clear hook.
func (b *Batch) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	b.files = nil
	b.result = nil
	b.err = nil
}

// Correlate pairs each submitted file with at most one server result, in submission order.
// Results are matched by echoed item id first, then by exact filename. Every result is consumed
// at most once, so duplicate filenames map to distinct results in order. Files without a match
// stay unresolved.
func Correlate(files []models.ImageFile, res *api.BatchResult) models.BatchResultSet {
	items := make([]models.BatchItem, len(files))
	for i, f := range files {
		items[i].File = f
	}

	var results []models.RawPrediction
	if res != nil {
		results = res.Results
	}
	used := make([]bool, len(results))

	byID := make(map[string]int)
	for j, r := range results {
		if r.ID == "" {
			continue
		}
		if _, dup := byID[r.ID]; !dup {
			byID[r.ID] = j
		}
	}
	for i, f := range files {
		if j, ok := byID[f.ID]; ok && !used[j] {
			r := results[j]
			items[i].Raw = &r
			used[j] = true
		}
	}

	for i, f := range files {
		if items[i].Raw != nil {
			continue
		}
		for j, r := range results {
			if !used[j] && r.Filename == f.Name {
				items[i].Raw = &r
				used[j] = true
				break
			}
		}
	}

	for i := range items {
		if items[i].Raw == nil {
			logger.WithField("file", items[i].File.Name).Debugf("No batch result matched")
			continue
		}
		interp := interpret.InterpretRaw(*items[i].Raw)
		items[i].Interpretation = &interp
		items[i].Resolved = true
	}

	set := models.BatchResultSet{
		Items:       items,
		Summary:     summarize(items),
		CompletedAt: time.Now(),
	}
	if res != nil {
		checkReported(res, set.Summary, len(results))
		if res.Summary != nil && res.Summary.AverageConfidence != nil {
			avg := *res.Summary.AverageConfidence
			if avg >= 0 && avg <= 1 {
				avg *= 100
			}
			set.Summary.AverageConfidence = avg
		}
	}
	if unused := countFalse(used); unused > 0 {
		logger.Warn("Batch response contained %d results that matched no submitted file", unused)
	}
	return set
}

func summarize(items []models.BatchItem) models.BatchSummary {
	s := models.BatchSummary{
		Total:      len(items),
		ByCategory: make(map[models.Category]int),
	}
	var sum float64
	var n int
	for _, item := range items {
		if !item.Resolved {
			s.Unresolved++
			continue
		}
		s.ByCategory[item.Interpretation.Category]++
		if item.Interpretation.TumorDetected() {
			s.TumorDetected++
		} else {
			s.NoTumor++
		}
		if item.Raw.ConfidenceValid {
			sum += item.Raw.Confidence
			n++
		}
	}
	if n > 0 {
		s.AverageConfidence = sum / float64(n)
	}
	return s
}

func checkReported(res *api.BatchResult, got models.BatchSummary, received int) {
	if res.TotalImages != 0 && res.TotalImages != got.Total {
		logger.Warn("Batch data inconsistency: server reported %d images, %d were submitted", res.TotalImages, got.Total)
	}
	if received != got.Total {
		logger.Warn("Batch data inconsistency: %d results for %d submitted images", received, got.Total)
	}
	if res.Summary == nil {
		return
	}
	if res.Summary.TumorDetected != nil && *res.Summary.TumorDetected != got.TumorDetected {
		logger.Warn("Batch data inconsistency: server reported %d tumor detections, recomputed %d",
			*res.Summary.TumorDetected, got.TumorDetected)
	}
	if res.Summary.NoTumor != nil && *res.Summary.NoTumor != got.NoTumor {
		logger.Warn("Batch data inconsistency: server reported %d no-tumor results, recomputed %d",
			*res.Summary.NoTumor, got.NoTumor)
	}
}

func countFalse(flags []bool) int {
	n := 0
	for _, f := range flags {
		if !f {
			n++
		}
	}
	return n
}
