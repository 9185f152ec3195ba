package cache

import (
	"sync"

	"github.com/geotrack/livetrack/pkg/core"
)

// AssetRegistry maps asset ids to their registered type for icon resolution
type AssetRegistry struct {
	mu     sync.RWMutex
	assets map[string]core.Asset
}

// NewAssetRegistry creates a new AssetRegistry
func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{
		assets: make(map[string]core.Asset),
	}
}

// Get retrieves an asset by id
func (r *AssetRegistry) Get(id string) (core.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	return a, ok
}

// Load stores assets, replacing any with the same id
func (r *AssetRegistry) Load(assets []core.Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range assets {
		r.assets[a.ID] = a
	}
}

// Icon resolves the icon kind for an entity. Unknown ids get the default.
func (r *AssetRegistry) Icon(id string) core.IconKind {
	a, ok := r.Get(id)
	if !ok {
		return core.IconDefault
	}
	return core.IconFor(a.Type)
}

func (r *AssetRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// Reset clears all assets from the registry
func (r *AssetRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = make(map[string]core.Asset)
}
