package verification

import (
	"fmt"

	"github.com/one-account/one-account-api/internal/db/models"
)

// Registry maps method identifiers to strategies in configured order. It is
// built once at startup and read-only afterwards.
type Registry struct {
	order      []models.VerificationMethod
	strategies map[models.VerificationMethod]Strategy
}

// NewRegistry registers strategies in the given order
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{strategies: make(map[models.VerificationMethod]Strategy, len(strategies))}
	for _, s := range strategies {
		if _, dup := r.strategies[s.Method()]; dup {
			return nil, fmt.Errorf("verification method %q registered twice", s.Method())
		}
		r.order = append(r.order, s.Method())
		r.strategies[s.Method()] = s
	}
	return r, nil
}

// NewRegistryFromConfig registers the configured methods, in configured
// order, picking each from available
func NewRegistryFromConfig(methods []string, available ...Strategy) (*Registry, error) {
	byMethod := make(map[models.VerificationMethod]Strategy, len(available))
	for _, s := range available {
		byMethod[s.Method()] = s
	}

	selected := make([]Strategy, 0, len(methods))
	for _, name := range methods {
		s, ok := byMethod[models.VerificationMethod(name)]
		if !ok {
			return nil, fmt.Errorf("no strategy for verification method %q", name)
		}
		selected = append(selected, s)
	}
	return NewRegistry(selected...)
}

// Methods returns the registered methods in order
func (r *Registry) Methods() []models.VerificationMethod {
	out := make([]models.VerificationMethod, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether method is registered
func (r *Registry) Has(method models.VerificationMethod) bool {
	_, ok := r.strategies[method]
	return ok
}

// Get returns the strategy for method
func (r *Registry) Get(method models.VerificationMethod) (Strategy, bool) {
	s, ok := r.strategies[method]
	return s, ok
}

// App returns the strategy for method if it is app-based
func (r *Registry) App(method models.VerificationMethod) (AppStrategy, bool) {
	s, ok := r.strategies[method].(AppStrategy)
	return s, ok
}

// Delivery returns the strategy for method if it is delivery-based
func (r *Registry) Delivery(method models.VerificationMethod) (DeliveryStrategy, bool) {
	s, ok := r.strategies[method].(DeliveryStrategy)
	return s, ok
}
