package history

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rewired-gh/brainscan/internal/models"
	"github.com/sourcegraph/conc"
)

// MetadataReader is the subset of the API client used for system metadata.
type MetadataReader interface {
	Health(ctx context.Context) (json.RawMessage, error)
	Classes(ctx context.Context) (json.RawMessage, error)
	ModelInfo(ctx context.Context) (json.RawMessage, error)
}

// ChartReader is the subset of the API client used for charts.
type ChartReader interface {
	Charts(ctx context.Context) (map[string]string, error)
	Statistics(ctx context.Context) (json.RawMessage, error)
}

// SystemInfoLoader reads backend health and model metadata. No session is needed.
type SystemInfoLoader struct {
	api MetadataReader
}

// NewSystemInfoLoader creates a SystemInfoLoader.
func NewSystemInfoLoader(r MetadataReader) *SystemInfoLoader {
	return &SystemInfoLoader{api: r}
}

// Load fetches health, classes and model info concurrently.
// Parts that fail are left empty and reported in the joined error.
func (l *SystemInfoLoader) Load(ctx context.Context) (models.SystemInfo, error) {
	r := l.api
	var (
		info                          models.SystemInfo
		healthErr, classesErr, modErr error
	)

	var wg conc.WaitGroup
	wg.Go(func() { info.Health, healthErr = r.Health(ctx) })
	wg.Go(func() { info.Classes, classesErr = r.Classes(ctx) })
	wg.Go(func() { info.Model, modErr = r.ModelInfo(ctx) })
	wg.Wait()

	return info, errors.Join(healthErr, classesErr, modErr)
}

// ChartsLoader reads the server-rendered result charts.
type ChartsLoader struct {
	api ChartReader
}

// NewChartsLoader creates a ChartsLoader.
func NewChartsLoader(r ChartReader) *ChartsLoader {
	return &ChartsLoader{api: r}
}

// Load fetches charts and statistics concurrently. Chart payloads are passed through
// untouched after checking they are valid base64. Charts with invalid payloads or names that
// are not plain file names are dropped.
func (l *ChartsLoader) Load(ctx context.Context) (models.ChartSet, error) {
	r := l.api
	var (
		set                models.ChartSet
		chartsErr, statErr error
	)

	var wg conc.WaitGroup
	wg.Go(func() { set.Charts, chartsErr = r.Charts(ctx) })
	wg.Go(func() { set.Statistics, statErr = r.Statistics(ctx) })
	wg.Wait()

	for name, payload := range set.Charts {
		if !SafeChartName(name) {
			delete(set.Charts, name)
			chartsErr = errors.Join(chartsErr, fmt.Errorf("chart name %q is not a plain file name", name))
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
			delete(set.Charts, name)
			chartsErr = errors.Join(chartsErr, fmt.Errorf("chart %s is not valid base64: %w", name, err))
		}
	}

	return set, errors.Join(chartsErr, statErr)
}

// SafeChartName reports whether name can be used as a file name inside an output directory.
func SafeChartName(name string) bool {
	return name != "" && filepath.IsLocal(name) && !strings.ContainsAny(name, `/\`)
}

// DecodeChart returns the PNG bytes of a chart.
func DecodeChart(set models.ChartSet, name string) ([]byte, error) {
	payload, ok := set.Charts[name]
	if !ok {
		return nil, fmt.Errorf("chart not found: %s", name)
	}
	return base64.StdEncoding.DecodeString(payload)
}

// ChartSizes returns the decoded byte size of every chart in the set.
func ChartSizes(set models.ChartSet) map[string]int {
	sizes := make(map[string]int, len(set.Charts))
	for name, payload := range set.Charts {
		sizes[name] = base64.StdEncoding.DecodedLen(len(payload)) - strings.Count(payload, "=")
	}
	return sizes
}
