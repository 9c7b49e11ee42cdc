package provider

import (
	"time"

	"imagemax/internal/storage"
)

// Factory selects the active provider set from runtime configuration.
// The orchestrator stays agnostic to how many or which providers exist.
type Factory struct {
	mockMode bool
	dalle    DalleConfig
	objects  storage.ObjectStore
}

// FactoryConfig configures provider selection.
type FactoryConfig struct {
	// MockMode swaps every real provider for simulated ones.
	MockMode bool
	Dalle    DalleConfig
}

// NewFactory builds the factory. The object store is only used by real
// strategies that must persist decoded payloads.
func NewFactory(cfg FactoryConfig, objects storage.ObjectStore) *Factory {
	return &Factory{
		mockMode: cfg.MockMode,
		dalle:    cfg.Dalle,
		objects:  objects,
	}
}

// Providers returns the provider set for one generation request.
func (f *Factory) Providers() []ImageProvider {
	if f.mockMode {
		return []ImageProvider{
			NewMockProvider("dalle", 2*time.Second),
			NewMockProvider("stability", 3*time.Second),
			NewMockProvider("midjourney", 4*time.Second),
		}
	}
	return []ImageProvider{
		NewDalleProvider(f.dalle, f.objects),
		// Add other providers here when ready.
	}
}
