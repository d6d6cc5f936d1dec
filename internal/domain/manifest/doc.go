// Package manifest loads and normalizes runtime manifests.
//
// A manifest describes what a session executes: runtime type and version,
// named asset paths, and the bundle content digest. Normalization forces
// every asset path root-relative and refuses manifests whose required
// assets are absent; absence is a hard failure, never a degraded boot.
//
// Error taxonomy:
//   - ErrLoadFailed: fetch or decode failure. Retryable.
//   - ErrAssetMissing: data integrity failure. Requires a new publish.
package manifest
