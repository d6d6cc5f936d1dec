package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/infrastructure/resilience"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// wireManifest mirrors the artifact service response shape.
type wireManifest struct {
	ArtifactID     string `json:"artifactId"`
	Type           string `json:"type"`
	RuntimeVersion string `json:"runtimeVersion"`
	Version        int    `json:"version"`
	Manifest       struct {
		Runtime struct {
			Version string `json:"version"`
			Assets  map[string]struct {
				Path string `json:"path"`
			} `json:"assets"`
		} `json:"runtime"`
		Bundle struct {
			R2Key     string `json:"r2Key"`
			SizeBytes int64  `json:"sizeBytes"`
			Digest    string `json:"digest"`
		} `json:"bundle"`
	} `json:"manifest"`
}

// Loader fetches and normalizes runtime manifests from the artifact
// service. Transient fetch failures are retried with backoff; asset
// integrity failures are not. A circuit breaker sits in front of the
// fetch so a dead artifact service fails sessions immediately instead
// of burning their boot budgets on retries.
type Loader struct {
	baseURL   string
	client    *retryablehttp.Client
	preflight *resty.Client
	breaker   *resilience.Breaker
	logger    *logging.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithPreflight enables HEAD checks of every named asset before the
// manifest is handed to a session.
func WithPreflight() Option {
	return func(l *Loader) {
		l.preflight = resty.New().
			SetTimeout(5 * time.Second).
			SetRetryCount(1)
	}
}

// NewLoader creates a manifest loader against the given artifact service
// base URL.
func NewLoader(baseURL string, logger *logging.Logger, opts ...Option) *Loader {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil // zap below instead of retryablehttp's own logger

	l := &Loader{
		baseURL: baseURL,
		client:  client,
		logger:  logger.Named("manifest"),
	}
	l.breaker = resilience.New("artifact-service", resilience.Settings{
		Timeout: 15 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to resilience.State) {
			l.logger.Warn("Artifact service breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches the manifest for an artifact and normalizes it. Returns
// *LoadError for fetch/decode failures and *AssetError when a required
// asset path normalizes to empty; both are boot failures for the session.
func (l *Loader) Load(ctx context.Context, artifactID string) (*Manifest, error) {
	url := fmt.Sprintf("%s/artifacts/%s/manifest", l.baseURL, artifactID)

	var wire wireManifest
	var upstream error // definitive upstream answers, not service failures
	err := l.breaker.Do(func() error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &LoadError{ArtifactID: artifactID, Reason: err.Error(), cause: err}
		}

		resp, err := l.client.Do(req)
		if err != nil {
			l.logger.Warn("Manifest fetch failed",
				zap.String("artifact_id", artifactID), zap.Error(err))
			return &LoadError{ArtifactID: artifactID, Reason: err.Error(), cause: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			io.Copy(io.Discard, resp.Body)
			upstream = &LoadError{ArtifactID: artifactID, StatusCode: resp.StatusCode}
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			return &LoadError{ArtifactID: artifactID, StatusCode: resp.StatusCode}
		}

		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return &LoadError{ArtifactID: artifactID, Reason: "decode: " + err.Error(), cause: err}
		}
		return nil
	})
	if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
		return nil, &LoadError{ArtifactID: artifactID, Reason: "artifact service unavailable", cause: err}
	}
	if err != nil {
		return nil, err
	}
	if upstream != nil {
		return nil, upstream
	}

	m, err := normalize(artifactID, &wire)
	if err != nil {
		return nil, err
	}

	if l.preflight != nil {
		if err := l.preflightAssets(ctx, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// normalize converts the wire shape into the internal manifest, enforcing
// root-relative asset paths and required-asset presence.
func normalize(artifactID string, wire *wireManifest) (*Manifest, error) {
	m := &Manifest{
		ArtifactID:     artifactID,
		RuntimeType:    types.RuntimeType(wire.Type),
		RuntimeVersion: wire.RuntimeVersion,
		SchemaVersion:  wire.Version,
		Assets:         make(map[string]string, len(wire.Manifest.Runtime.Assets)),
		BundleKey:      wire.Manifest.Bundle.R2Key,
		SizeBytes:      wire.Manifest.Bundle.SizeBytes,
		Digest:         wire.Manifest.Bundle.Digest,
	}
	if m.RuntimeVersion == "" {
		m.RuntimeVersion = wire.Manifest.Runtime.Version
	}

	for name, asset := range wire.Manifest.Runtime.Assets {
		p, origin := normalizePath(asset.Path)
		if p == "" {
			continue // absence surfaces through validate below
		}
		m.Assets[name] = p
		if origin != "" && m.AssetOrigin == "" {
			m.AssetOrigin = origin
		}
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// preflightAssets HEADs each asset; any failure is reported as a missing
// asset since the sandbox would fail to boot either way.
func (l *Loader) preflightAssets(ctx context.Context, m *Manifest) error {
	base := m.AssetOrigin
	if base == "" {
		base = l.baseURL
	}

	for name, p := range m.Assets {
		resp, err := l.preflight.R().SetContext(ctx).Head(base + p)
		if err != nil || resp.IsError() {
			l.logger.Warn("Asset preflight failed",
				zap.String("artifact_id", m.ArtifactID),
				zap.String("asset", name))
			return &AssetError{ArtifactID: m.ArtifactID, Asset: name}
		}
	}
	return nil
}
