package registry

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/multifinance/gateway/internal/config"
)

// ErrNoRoute is returned when no registered prefix matches a request path.
var ErrNoRoute = errors.New("no service registered for path")

// Service describes a single downstream service. Immutable after construction.
type Service struct {
	Name       string
	BaseURL    string
	PathPrefix string
	HealthPath string
	Timeout    time.Duration
	Critical   bool
}

// Registry is the static routing table: service name lookups plus
// prefix-based path resolution. Read-only after New.
type Registry struct {
	byName  map[string]*Service
	ordered []*Service // sorted by prefix length, longest first
}

// New builds a registry from configuration.
func New(services []config.ServiceConfig) *Registry {
	r := &Registry{
		byName: make(map[string]*Service, len(services)),
	}

	for _, sc := range services {
		healthPath := sc.HealthPath
		if healthPath == "" {
			healthPath = "/health"
		}
		svc := &Service{
			Name:       sc.Name,
			BaseURL:    strings.TrimSuffix(sc.BaseURL, "/"),
			PathPrefix: sc.PathPrefix,
			HealthPath: healthPath,
			Timeout:    sc.Timeout,
			Critical:   sc.Critical,
		}
		r.byName[svc.Name] = svc
		r.ordered = append(r.ordered, svc)
	}

	// Longest prefix wins on overlapping routes.
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return len(r.ordered[i].PathPrefix) > len(r.ordered[j].PathPrefix)
	})

	return r
}

// Get returns the service with the given name.
func (r *Registry) Get(name string) (*Service, bool) {
	svc, ok := r.byName[name]
	return svc, ok
}

// Resolve maps a request path to the owning service by longest prefix match.
func (r *Registry) Resolve(path string) (*Service, error) {
	for _, svc := range r.ordered {
		if strings.HasPrefix(path, svc.PathPrefix) {
			return svc, nil
		}
	}
	return nil, ErrNoRoute
}

// All returns every registered service, sorted by name.
func (r *Registry) All() []*Service {
	services := make([]*Service, 0, len(r.byName))
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		services = append(services, r.byName[name])
	}
	return services
}

// Names returns all service names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
