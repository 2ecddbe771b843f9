package predict

import (
	"errors"
	"sort"
	"sync"

	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/nets/paramstores"
	"github.com/qvantel/solapse/internal/norm"
)

// ErrNotLoaded is returned when there is no predictor for the requested version
var ErrNotLoaded = errors.New("model not loaded")

// Registry holds the predictors being served. Registering a version replaces the predictor value, predictors
// themselves are never modified
type Registry struct {
	mu         sync.RWMutex
	def        string
	predictors map[string]*Predictor
}

// NewRegistry returns an empty registry, def is the version used when a request doesn't ask for one
func NewRegistry(def string) *Registry {
	return &Registry{def: def, predictors: map[string]*Predictor{}}
}

// Register makes a predictor available under its version
func (r *Registry) Register(p *Predictor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictors[p.Version()] = p
}

// Remove stops serving a version
func (r *Registry) Remove(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.predictors, version)
}

// Get returns the predictor for a version
func (r *Registry) Get(version string) (*Predictor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predictors[version]
	if !ok {
		return nil, ErrNotLoaded
	}
	return p, nil
}

// Default returns the predictor for the default version
func (r *Registry) Default() (*Predictor, error) {
	return r.Get(r.def)
}

// Ready returns true when the default version can be served
func (r *Registry) Ready() bool {
	_, err := r.Default()
	return err == nil
}

// Versions returns the sorted list of versions being served
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := make([]string, 0, len(r.predictors))
	for v := range r.predictors {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Publish builds a predictor for a freshly trained snapshot and registers it, it can be handed to the training service
func (r *Registry) Publish(active norm.Convention) func(params paramstores.MLPParams) error {
	return func(params paramstores.MLPParams) error {
		p, err := New(params.Version, params, active)
		if err != nil {
			return err
		}
		r.Register(p)
		logger.Info("Now serving snapshot " + params.Version)
		return nil
	}
}

// LoadAll loads the given versions from the store and registers a predictor for each one that can be served. Missing
// or unusable snapshots are logged and skipped, the service never falls back to untrained weights. The number of
// versions registered is returned
func (r *Registry) LoadAll(nps paramstores.NetParamStore, versions []string, active norm.Convention) (int, error) {
	loaded := 0
	for _, version := range versions {
		var params paramstores.MLPParams
		found, err := nps.Load(version, &params)
		if err != nil {
			logger.Error("Failed to load snapshot "+version, err)
			return loaded, err
		}
		if !found {
			logger.Error("Snapshot " + version + " could not be found, it won't be served")
			continue
		}
		p, err := New(version, params, active)
		if err != nil {
			logger.Error("Snapshot "+version+" can't be served", err)
			continue
		}
		r.Register(p)
		loaded++
		logger.Info("Loaded snapshot " + version + " (" + active.Tag + ")")
	}
	return loaded, nil
}
