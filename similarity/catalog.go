package similarity

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog is returned when catalog file holds no usable embeddings
var ErrEmptyCatalog = errors.New("catalog has no embeddings")

// Entry is a single reference embedding of a known person
type Entry struct {
	Name      string
	Embedding []float64
}

// Catalog is an immutable list of reference embeddings. Several entries may share a name.
type Catalog struct {
	entries []Entry
}

// NewCatalog copies entries into a new catalog
func NewCatalog(entries []Entry) *Catalog {
	c := &Catalog{entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		emb := make([]float64, len(e.Embedding))
		copy(emb, e.Embedding)
		c.entries = append(c.entries, Entry{Name: e.Name, Embedding: emb})
	}
	return c
}

// Len returns number of reference embeddings
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Names returns sorted distinct names
func (c *Catalog) Names() []string {
	seen := make(map[string]struct{}, len(c.entries))
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

type catalogFile struct {
	People []struct {
		Name       string      `yaml:"name"`
		Embeddings [][]float64 `yaml:"embeddings"`
	} `yaml:"people"`
}

// LoadCatalog reads YAML (or JSON, which is a YAML subset) catalog:
//
//	people:
//	  - name: Alice
//	    embeddings: [[0.1, 0.2, ...], ...]
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't read catalog %s", path)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "Can't parse catalog %s", path)
	}
	entries := make([]Entry, 0)
	for _, person := range file.People {
		if person.Name == "" || person.Name == UnknownName {
			continue
		}
		for _, emb := range person.Embeddings {
			if len(emb) == 0 {
				continue
			}
			entries = append(entries, Entry{Name: person.Name, Embedding: emb})
		}
	}
	if len(entries) == 0 {
		return nil, errors.Wrap(ErrEmptyCatalog, path)
	}
	return NewCatalog(entries), nil
}
