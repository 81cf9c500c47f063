package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry describes one saved file.
type Entry struct {
	Path    string
	Kind    string
	SavedAt time.Time
	Size    int64
}

// List enumerates saved records across dirs, newest first. Missing
// directories are skipped.
func List(dirs ...string) ([]Entry, error) {
	var out []Entry
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, de := range entries {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			kind, savedAt := parseName(de.Name())
			if savedAt.IsZero() {
				savedAt = info.ModTime().UTC()
			}
			out = append(out, Entry{
				Path:    filepath.Join(dir, de.Name()),
				Kind:    kind,
				SavedAt: savedAt,
				Size:    info.Size(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Read loads one record.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return rec, nil
}

// parseName splits "<kind>-<timestamp>-<suffix>.json".
func parseName(name string) (string, time.Time) {
	base := strings.TrimSuffix(name, ".json")
	i := strings.LastIndexByte(base, '-')
	if i < 0 {
		return "", time.Time{}
	}
	base = base[:i]
	j := strings.LastIndexByte(base, '-')
	if j < 0 {
		return "", time.Time{}
	}
	ts, err := time.Parse(timeLayout, base[j+1:])
	if err != nil {
		return "", time.Time{}
	}
	return base[:j], ts
}
