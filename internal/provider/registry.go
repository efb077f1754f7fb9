package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rolledback/cloudbridge/internal/apperror"
	"github.com/rolledback/cloudbridge/internal/logger"
)

// Registry manages provider discovery and creation
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	log       logrus.FieldLogger
}

// NewRegistry creates a new provider registry
func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		log:       logger.Or(log),
	}
}

// Register adds a provider factory for a given provider ID
func (r *Registry) Register(providerID string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerID] = factory
}

// Providers returns the registered provider IDs in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Create builds a store for providerID from runtime settings.
func (r *Registry) Create(providerID string, settings Settings) (RemoteStore, error) {
	r.mu.RLock()
	factory, ok := r.factories[providerID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.Newf(apperror.CodeInvalidArgument, "unknown provider %q", providerID)
	}
	return factory("", settings)
}

// Restore creates the store for providerID from the settings.json saved
// under storageDir. It returns the settings so callers can read the stored
// credential.
func (r *Registry) Restore(storageDir, providerID string) (RemoteStore, Settings, error) {
	r.mu.RLock()
	factory, ok := r.factories[providerID]
	r.mu.RUnlock()
	if !ok {
		return nil, Settings{}, apperror.Newf(apperror.CodeInvalidArgument, "unknown provider %q", providerID)
	}

	providerDir := filepath.Join(storageDir, providerID)
	settings, err := LoadSettings(providerDir)
	if err != nil {
		return nil, Settings{}, err
	}
	store, err := factory(providerDir, settings)
	if err != nil {
		return nil, Settings{}, err
	}
	return store, settings, nil
}

// LoadSettings reads the settings.json in providerDir. The error satisfies
// os.IsNotExist when there is none.
func LoadSettings(providerDir string) (Settings, error) {
	var settings Settings

	data, err := os.ReadFile(filepath.Join(providerDir, "settings.json"))
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("invalid settings.json in %s: %w", providerDir, err)
	}
	return settings, nil
}

// LoadRootSettings reads the optional settings.json at the root of storageDir.
// A missing file yields zero settings.
func LoadRootSettings(storageDir string) (RootSettings, error) {
	var root RootSettings

	data, err := os.ReadFile(filepath.Join(storageDir, "settings.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return root, nil
		}
		return root, fmt.Errorf("failed to read settings.json: %w", err)
	}
	if err := json.Unmarshal(data, &root); err != nil {
		return root, fmt.Errorf("invalid settings.json: %w", err)
	}
	return root, nil
}

// Discover scans storageDir for provider folders holding a settings.json and
// creates a store for each one it has a factory for.
// Returns map of providerID -> RemoteStore for successfully created providers.
func (r *Registry) Discover(storageDir string) (map[string]RemoteStore, error) {
	if _, err := LoadRootSettings(storageDir); err != nil {
		return nil, err
	}

	stores := make(map[string]RemoteStore)

	entries, err := os.ReadDir(storageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return stores, nil
		}
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		providerID := entry.Name()

		r.mu.RLock()
		factory, ok := r.factories[providerID]
		r.mu.RUnlock()
		if !ok {
			// Unknown provider folder - ignore it
			continue
		}

		providerDir := filepath.Join(storageDir, providerID)
		settings, err := LoadSettings(providerDir)
		if err != nil {
			if !os.IsNotExist(err) {
				r.log.WithError(err).Warnf("skipping %s provider", providerID)
			}
			continue
		}

		store, err := factory(providerDir, settings)
		if err != nil {
			r.log.WithError(err).Warnf("failed to create %s provider", providerID)
			continue
		}

		stores[providerID] = store
		r.log.WithField("provider", providerID).Info("discovered provider")
	}

	return stores, nil
}
