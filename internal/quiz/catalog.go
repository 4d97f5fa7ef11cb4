package quiz

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Entry is one quiz as declared in a catalog file.
type Entry struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Controller  string         `json:"controller" yaml:"controller"`
	Settings    map[string]any `json:"settings" yaml:"settings"`
}

var catalogFiles = []string{"quizzes.json", "quizzes.yaml", "quizzes.yml"}

// Catalog lists the quizzes installed under a directory. Every sub directory
// may hold one catalog file.
type Catalog struct {
	entries   []Entry
	byID      map[string]Entry
	factories map[string]Factory
}

type CatalogOption func(*Catalog)

// WithFactory registers an extra controller, replacing a built-in one of the same name.
func WithFactory(controller string, f Factory) CatalogOption {
	return func(c *Catalog) {
		c.factories[controller] = f
	}
}

// WithEntries adds entries that do not come from disk.
func WithEntries(entries ...Entry) CatalogOption {
	return func(c *Catalog) {
		c.entries = append(c.entries, entries...)
	}
}

// LoadCatalog scans dir. A missing dir yields an empty catalog.
func LoadCatalog(dir string, opts ...CatalogOption) (*Catalog, error) {
	c := &Catalog{
		byID:      make(map[string]Entry),
		factories: DefaultFactories(),
	}

	if dir != "" {
		entries, err := scan(dir)
		if err != nil {
			return nil, err
		}
		c.entries = entries
	}

	for _, opt := range opts {
		opt(c)
	}

	for _, e := range c.entries {
		if e.ID == "" {
			return nil, fmt.Errorf("quiz catalog: entry %q has no id", e.Name)
		}
		if _, ok := c.byID[e.ID]; ok {
			return nil, fmt.Errorf("quiz catalog: duplicate quiz id %q", e.ID)
		}
		c.byID[e.ID] = e
	}

	return c, nil
}

func scan(dir string) ([]Entry, error) {
	folders, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		slog.Warn("quiz catalog: directory not found", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quiz catalog: read %s: %w", dir, err)
	}

	sort.Slice(folders, func(i, j int) bool { return folders[i].Name() < folders[j].Name() })

	var entries []Entry
	for _, f := range folders {
		if !f.IsDir() {
			continue
		}

		for _, name := range catalogFiles {
			path := filepath.Join(dir, f.Name(), name)
			found, err := readCatalogFile(path)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("quiz catalog: %s: %w", path, err)
			}

			entries = append(entries, found...)
			break
		}
	}

	return entries, nil
}

func readCatalogFile(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(b, &entries)
	default:
		err = yaml.Unmarshal(b, &entries)
	}
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// List returns the quizzes in catalog order.
func (c *Catalog) List() []domain.QuizInfo {
	out := make([]domain.QuizInfo, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, domain.QuizInfo{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
		})
	}

	return out
}

// NewSource instantiates a fresh source for quiz id.
func (c *Catalog) NewSource(id string) (Source, error) {
	e, ok := c.byID[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz %q not found", id))
	}

	f, ok := c.factories[e.Controller]
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz %q uses unknown controller %q", id, e.Controller))
	}

	src, err := f(e.Settings)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz %q cannot be started", id),
			errors.WithCause(err))
	}

	return src, nil
}
