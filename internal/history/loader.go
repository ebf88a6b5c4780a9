// Package history loads the read-only views of past activity: the session user's recent
// predictions and analytics summary, plus the unauthenticated system metadata and charts.
//
// Each view is fetched with concurrent reads joined before the view updates.
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rewired-gh/brainscan/internal/logger"
	"github.com/rewired-gh/brainscan/internal/models"
	"github.com/sourcegraph/conc"
)

// Reader is the subset of the API client the loader uses.
type Reader interface {
	History(ctx context.Context, token string, limit int) ([]models.HistoryEntry, error)
	Analytics(ctx context.Context, token string) (*models.Analytics, error)
}

// SessionGate exposes the session state the loader needs.
type SessionGate interface {
	Snapshot() (models.Session, uint64)
	Current(epoch uint64) bool
	HandleAuthFailure(epoch uint64, err error) error
}

// Loader holds the latest history and analytics for the session user.
type Loader struct {
	api     Reader
	session SessionGate
	limit   int

	mu          sync.RWMutex
	entries     []models.HistoryEntry
	analytics   *models.Analytics
	refreshedAt time.Time
}

// NewLoader creates a Loader that requests at most limit entries.
func NewLoader(r Reader, s SessionGate, limit int) *Loader {
	return &Loader{api: r, session: s, limit: limit}
}

// Refresh re-reads history and analytics. It is a no-op without a session.
// The two reads run concurrently; each result is applied on its own, so one failing read does
// not hide the other. A 401 from either clears the session.
func (l *Loader) Refresh(ctx context.Context) error {
	sess, epoch := l.session.Snapshot()
	if !sess.IsAuthenticated() {
		return nil
	}

	var (
		entries              []models.HistoryEntry
		analytics            *models.Analytics
		historyErr, statsErr error
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		entries, historyErr = l.api.History(ctx, sess.Token(), l.limit)
	})
	wg.Go(func() {
		analytics, statsErr = l.api.Analytics(ctx, sess.Token())
	})
	wg.Wait()

	for _, err := range []error{historyErr, statsErr} {
		if err == nil {
			continue
		}
		if handled := l.session.HandleAuthFailure(epoch, err); handled != err {
			return handled
		}
	}

	if !l.session.Current(epoch) {
		logger.Debug("Dropping history refresh for a session that is no longer active")
		return nil
	}

	l.mu.Lock()
	if historyErr == nil {
		if len(entries) > l.limit {
			entries = entries[len(entries)-l.limit:]
		}
		l.entries = entries
	} else {
		l.entries = nil
		logger.Warn("Failed to load prediction history: %v", historyErr)
	}
	if statsErr == nil {
		l.analytics = analytics
	} else {
		l.analytics = nil
		logger.Warn("Failed to load analytics: %v", statsErr)
	}
	l.refreshedAt = time.Now()
	l.mu.Unlock()

	return errors.Join(historyErr, statsErr)
}

// Entries returns the most recent predictions from the last refresh.
func (l *Loader) Entries() []models.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.HistoryEntry(nil), l.entries...)
}

// Analytics returns the summary from the last refresh, or nil when unavailable.
func (l *Loader) Analytics() *models.Analytics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.analytics
}

// RefreshedAt reports when the last successful refresh completed.
func (l *Loader) RefreshedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refreshedAt
}

// Reset drops everything. It is wired to the session's clear hook.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.analytics = nil
	l.refreshedAt = time.Time{}
}
