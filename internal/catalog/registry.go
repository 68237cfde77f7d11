package catalog

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/wizard/model"
)

// snapshot is an immutable view of the catalog.
type snapshot struct {
	order     []string
	templates map[string]model.Template
	checksum  string
}

// Registry is a read-optimized, thread-safe template catalog. It uses atomic
// pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from files.
func NewRegistry(files []File) *Registry {
	r := &Registry{}
	r.Replace(files)
	return r
}

// NewRegistryFromTemplates creates a Registry directly from templates. Used
// by tests and tooling that build templates in code.
func NewRegistryFromTemplates(templates []model.Template) *Registry {
	return NewRegistry([]File{{Templates: templates, SourceFile: "inline"}})
}

// Replace atomically swaps the registry contents. When two templates share
// an id the later one wins but keeps the position of the first.
func (r *Registry) Replace(files []File) {
	s := &snapshot{templates: make(map[string]model.Template)}

	var checksumParts []string
	for _, f := range files {
		if f.Checksum != "" {
			checksumParts = append(checksumParts, f.Checksum)
		}
		for _, t := range f.Templates {
			if _, exists := s.templates[t.ID]; !exists {
				s.order = append(s.order, t.ID)
			}
			s.templates[t.ID] = t
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (model.Template, bool) {
	t, ok := r.current().templates[id]
	return t, ok
}

// All returns every template in catalog order.
func (r *Registry) All() []model.Template {
	s := r.current()
	out := make([]model.Template, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.templates[id])
	}
	return out
}

// Listings returns the browsing summaries of every template in catalog order.
func (r *Registry) Listings() []model.TemplateListing {
	all := r.All()
	out := make([]model.TemplateListing, len(all))
	for i, t := range all {
		out[i] = t.Listing()
	}
	return out
}

// Len returns the number of templates.
func (r *Registry) Len() int {
	return len(r.current().order)
}

// Checksum returns the combined checksum of all loaded files.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
