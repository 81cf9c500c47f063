// Package fallback writes undeliverable leads to disk so they can be
// reprocessed by hand. It is a last resort, not a queue: nothing reads the
// files back automatically.
package fallback

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trialreach/funnel/internal/metrics"
)

const timeLayout = "20060102T150405.000Z"

var unsafeKind = regexp.MustCompile(`[^a-z0-9-]+`)

// Record is the on-disk document.
type Record struct {
	Kind    string          `json:"kind"`
	SavedAt time.Time       `json:"savedAt"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Writer saves records under dir, or under the temp-dir store when dir is
// not writable.
type Writer struct {
	dir     string
	tempDir string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Writer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithTempDir overrides the secondary location.
func WithTempDir(dir string) Option {
	return func(w *Writer) { w.tempDir = dir }
}

func NewWriter(dir string, logger *slog.Logger, opts ...Option) *Writer {
	w := &Writer{
		dir:     dir,
		tempDir: TempStore(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TempStore is the process-temp-directory location.
func TempStore() string {
	return filepath.Join(os.TempDir(), "funnel-leads")
}

// Dirs returns the primary and secondary store locations.
func (w *Writer) Dirs() []string {
	return []string{w.dir, w.tempDir}
}

// Save writes payload with the error detail that made it undeliverable.
// It returns the written path, or "" when both locations failed. Failures
// are logged and never returned.
func (w *Writer) Save(kind string, payload any, cause error) string {
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("fallback encode failed", "kind", kind, "error", err)
		w.metrics.FallbackWrite("none", "error")
		return ""
	}
	rec := Record{
		Kind:    sanitizeKind(kind),
		SavedAt: w.now().UTC(),
		Payload: data,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	doc, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		w.logger.Error("fallback encode failed", "kind", kind, "error", err)
		w.metrics.FallbackWrite("none", "error")
		return ""
	}

	name := fmt.Sprintf("%s-%s-%s.json", rec.Kind, rec.SavedAt.Format(timeLayout), uuid.NewString()[:8])
	for i, dir := range w.Dirs() {
		location := "primary"
		if i > 0 {
			location = "temp"
		}
		path, err := writeFile(dir, name, doc)
		if err != nil {
			w.logger.Warn("fallback write failed", "location", location, "dir", dir, "error", err)
			w.metrics.FallbackWrite(location, "error")
			continue
		}
		w.metrics.FallbackWrite(location, "ok")
		w.logger.Info("lead saved to fallback store", "kind", rec.Kind, "path", path)
		return path
	}
	w.logger.Error("lead could not be saved anywhere", "kind", rec.Kind)
	return ""
}

// Writable checks that the primary store accepts files.
func (w *Writer) Writable() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(w.dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func writeFile(dir, name string, data []byte) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("no directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

func sanitizeKind(kind string) string {
	k := unsafeKind.ReplaceAllString(strings.ToLower(kind), "-")
	k = strings.Trim(k, "-")
	if k == "" {
		return "lead"
	}
	return k
}
