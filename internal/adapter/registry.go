package adapter

import (
	"fmt"
	"slices"

	"github.com/amishk599/recruitwatch/internal/model"
)

// Source identifiers of the supported recruitment sites.
const (
	SourceSeverance = "severance"
	SourceChCauhs   = "chcauhs"
	SourceEUMC      = "eumc"
	SourceCAUMC     = "caumc"
)

// KnownSources lists every source this build can scrape.
var KnownSources = []string{SourceSeverance, SourceChCauhs, SourceEUMC, SourceCAUMC}

// Registry maps source identifiers to adapters.
type Registry struct {
	adapters map[string]model.SourceAdapter
	order    []string
}

// NewRegistry registers the given adapters in order.
func NewRegistry(adapters ...model.SourceAdapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]model.SourceAdapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Registering a source twice is an error.
func (r *Registry) Register(a model.SourceAdapter) error {
	id := a.Source()
	if id == "" {
		return fmt.Errorf("adapter has empty source id")
	}
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("source %q registered twice", id)
	}
	r.adapters[id] = a
	r.order = append(r.order, id)
	return nil
}

// Get returns the adapter for a source.
func (r *Registry) Get(source string) (model.SourceAdapter, bool) {
	a, ok := r.adapters[source]
	return a, ok
}

// Sources returns registered source ids in registration order.
func (r *Registry) Sources() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// IsKnown reports whether source names a supported site.
func IsKnown(source string) bool {
	return slices.Contains(KnownSources, source)
}

var displayNames = map[string]string{
	SourceSeverance: "연세의료원 세브란스",
	SourceChCauhs:   "중앙대학교광명병원",
	SourceEUMC:      "이화여자대학교의료원",
	SourceCAUMC:     "중앙대학교의료원",
}

// DisplayName returns the human-readable name of a source, or the id itself
// for unknown sources.
func DisplayName(source string) string {
	if name, ok := displayNames[source]; ok {
		return name
	}
	return source
}

// ListingURLs maps each known source to its public listing page.
func ListingURLs() map[string]string {
	return map[string]string{
		SourceSeverance: severanceBaseURL + severanceSite.listPath,
		SourceChCauhs:   chcauhsBaseURL + chcauhsSite.listPath,
		SourceEUMC:      eumcBaseURL,
		SourceCAUMC:     caumcBaseURL + "/app/jobnotice/list",
	}
}
