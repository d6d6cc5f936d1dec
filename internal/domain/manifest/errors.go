package manifest

import (
	"errors"
	"fmt"
)

// ErrLoadFailed marks network or decode failures. Retryable.
var ErrLoadFailed = errors.New("manifest load failed")

// ErrAssetMissing marks a manifest whose required asset normalized to
// empty. Not retryable without a new publish.
var ErrAssetMissing = errors.New("manifest asset missing")

// LoadError wraps a failed fetch or decode with artifact context.
type LoadError struct {
	ArtifactID string
	StatusCode int
	Reason     string
	cause      error
}

func (e *LoadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("manifest load failed for %s: status %d", e.ArtifactID, e.StatusCode)
	}
	return fmt.Sprintf("manifest load failed for %s: %s", e.ArtifactID, e.Reason)
}

func (e *LoadError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return ErrLoadFailed
}

// Is lets errors.Is(err, ErrLoadFailed) match regardless of cause chain.
func (e *LoadError) Is(target error) bool { return target == ErrLoadFailed }

// AssetError reports a required asset that is absent or empty.
type AssetError struct {
	ArtifactID string
	Asset      string
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("artifact %s is missing required asset %q", e.ArtifactID, e.Asset)
}

func (e *AssetError) Unwrap() error { return ErrAssetMissing }
