package manifest

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/capsulehq/runtime/internal/shared/types"
)

// Manifest is the normalized description of what a session executes.
type Manifest struct {
	ArtifactID     string            `json:"artifact_id"`
	RuntimeType    types.RuntimeType `json:"runtime_type"`
	RuntimeVersion string            `json:"runtime_version"`
	SchemaVersion  int               `json:"schema_version"`

	// Assets maps asset names to root-relative paths. Every required
	// asset is guaranteed non-empty after normalization.
	Assets map[string]string `json:"assets"`

	BundleKey string `json:"bundle_key"`
	SizeBytes int64  `json:"size_bytes"`
	Digest    string `json:"digest"`

	// AssetOrigin is the scheme://host[:port] the assets are served from,
	// used to derive the bridge origin allowlist. Empty for relative-only
	// manifests (opaque-origin sandboxes).
	AssetOrigin string `json:"asset_origin,omitempty"`
}

// requiredAssets returns the asset names a runtime type cannot boot without.
func requiredAssets(t types.RuntimeType) []string {
	switch t {
	case types.RuntimeMarkup:
		return []string{"document"}
	case types.RuntimeScripted:
		return []string{"bootstrap", "bundle"}
	}
	return nil
}

// normalizePath forces an asset path to be root-relative. Absolute URLs
// keep only their path component; the origin is captured separately.
func normalizePath(raw string) (p, origin string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
		raw = u.Path
	}

	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	cleaned := path.Clean(raw)
	if cleaned == "/" || cleaned == "." {
		return "", origin
	}
	return cleaned, origin
}

// validate enforces the hard invariants of a boot-ready manifest.
func (m *Manifest) validate() error {
	if !m.RuntimeType.Valid() {
		return &LoadError{ArtifactID: m.ArtifactID, Reason: fmt.Sprintf("unknown runtime type %q", m.RuntimeType)}
	}
	for _, name := range requiredAssets(m.RuntimeType) {
		if m.Assets[name] == "" {
			return &AssetError{ArtifactID: m.ArtifactID, Asset: name}
		}
	}
	if m.Digest != "" {
		if _, _, err := ParseDigest(m.Digest); err != nil {
			return &LoadError{ArtifactID: m.ArtifactID, Reason: err.Error()}
		}
	}
	return nil
}
