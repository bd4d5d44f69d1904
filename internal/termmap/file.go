package termmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/text/language"
)

// Filename returns the term map filename for the given source and target languages.
// Uses 2-letter language base codes (e.g., "en", "zh").
func Filename(sourceLang, targetLang language.Tag) string {
	return "term_map." + baseCode(sourceLang) + "-" + baseCode(targetLang) + ".json"
}

// Load reads a term map from a JSON file.
func Load(path string) (TermMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tm TermMap
	if err := json.Unmarshal(data, &tm); err != nil {
		return nil, fmt.Errorf("invalid term map %s: %w", path, err)
	}
	if tm == nil {
		tm = TermMap{}
	}
	return tm, nil
}

// Save writes a term map to a JSON file with indentation.
func Save(path string, tm TermMap) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Dir keeps one term map file per language pair in a directory.
type Dir struct {
	path string
	mu   sync.RWMutex
}

func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Get returns the term map of a language pair, empty when none was saved.
func (d *Dir) Get(source, target language.Tag) (TermMap, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tm, err := Load(filepath.Join(d.path, Filename(source, target)))
	if errors.Is(err, fs.ErrNotExist) {
		return TermMap{}, nil
	}
	return tm, err
}

func (d *Dir) Put(source, target language.Tag, tm TermMap) error {
	if source == language.Und || target == language.Und {
		return fmt.Errorf("source and target languages are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return Save(filepath.Join(d.path, Filename(source, target)), tm)
}

func baseCode(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}
