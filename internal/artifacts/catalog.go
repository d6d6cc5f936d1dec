// Package artifacts is a development stand-in for the publish pipeline.
// It serves runtime manifests and bundle assets from YAML seed files so
// the subsystem can run and be integration-tested without the real
// artifact service.
package artifacts

import (
	"fmt"
	"sync"

	"github.com/capsulehq/runtime/internal/domain/manifest"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// Asset is a single served bundle file.
type Asset struct {
	Path        string
	ContentType string
	Data        []byte
}

// Artifact is one published capsule bundle: its wire manifest plus the
// asset bytes behind the manifest's paths.
type Artifact struct {
	ID             string
	RuntimeType    types.RuntimeType
	RuntimeVersion string
	Version        int
	AssetPaths     map[string]string // logical name -> root-relative path
	assets         map[string]Asset  // keyed by root-relative path
	BundleKey      string
	SizeBytes      int64
	Digest         string
}

// Catalog holds seeded artifacts.
type Catalog struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{artifacts: make(map[string]*Artifact)}
}

// Register adds or replaces an artifact.
func (c *Catalog) Register(a *Artifact) error {
	if a.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	if !a.RuntimeType.Valid() {
		return fmt.Errorf("unknown runtime type %q", a.RuntimeType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[a.ID] = a
	return nil
}

// Get retrieves an artifact by ID.
func (c *Catalog) Get(id string) (*Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[id]
	return a, ok
}

// Asset resolves a root-relative path within an artifact.
func (c *Catalog) Asset(artifactID, path string) (Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[artifactID]
	if !ok {
		return Asset{}, false
	}
	asset, ok := a.assets[path]
	return asset, ok
}

// IDs lists the registered artifact IDs.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.artifacts))
	for id := range c.artifacts {
		out = append(out, id)
	}
	return out
}

// WireManifest renders the manifest document the loader expects.
func (a *Artifact) WireManifest() map[string]any {
	assets := make(map[string]any, len(a.AssetPaths))
	for name, p := range a.AssetPaths {
		assets[name] = map[string]any{"path": p}
	}
	return map[string]any{
		"artifactId":     a.ID,
		"type":           string(a.RuntimeType),
		"runtimeVersion": a.RuntimeVersion,
		"version":        a.Version,
		"manifest": map[string]any{
			"runtime": map[string]any{
				"version": a.RuntimeVersion,
				"assets":  assets,
			},
			"bundle": map[string]any{
				"r2Key":     a.BundleKey,
				"sizeBytes": a.SizeBytes,
				"digest":    a.Digest,
			},
		},
	}
}

// primaryAssetName is the asset whose bytes the bundle digest covers.
func primaryAssetName(t types.RuntimeType) string {
	if t == types.RuntimeScripted {
		return "bundle"
	}
	return "document"
}

// finalize computes the bundle digest and size from the primary asset.
func (a *Artifact) finalize() error {
	primary := primaryAssetName(a.RuntimeType)
	path, ok := a.AssetPaths[primary]
	if !ok {
		return fmt.Errorf("artifact %s: missing required asset %q", a.ID, primary)
	}
	asset, ok := a.assets[path]
	if !ok {
		return fmt.Errorf("artifact %s: no data for asset path %q", a.ID, path)
	}
	a.SizeBytes = int64(len(asset.Data))
	a.Digest = manifest.ComputeDigest(asset.Data)
	if a.BundleKey == "" {
		a.BundleKey = fmt.Sprintf("bundles/%s/%d%s", a.ID, a.Version, path)
	}
	return nil
}
