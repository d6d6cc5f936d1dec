package artifacts

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-yaml"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// seedFile is one *.yaml seed describing a capsule bundle. Asset values
// are file paths relative to the seed file's directory.
type seedFile struct {
	Artifact struct {
		ID             string `yaml:"id"`
		Type           string `yaml:"type"`
		RuntimeVersion string `yaml:"runtime_version"`
		Version        int    `yaml:"version"`
	} `yaml:"artifact"`
	Assets map[string]string `yaml:"assets"`
}

// Seeder loads capsule bundles from a seeds directory into a catalog.
type Seeder struct {
	catalog  *Catalog
	seedsDir string
	logger   *logging.Logger
	policy   *bluemonday.Policy
}

// NewSeeder creates a seeder for the given directory.
func NewSeeder(catalog *Catalog, seedsDir string, logger *logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Seeder{
		catalog:  catalog,
		seedsDir: seedsDir,
		logger:   logger.Named("artifacts"),
		policy:   bluemonday.UGCPolicy(),
	}
}

// Seed loads every *.yaml seed under the seeds directory. A missing
// directory is not an error; a malformed seed is logged and skipped.
func (s *Seeder) Seed() error {
	if _, err := os.Stat(s.seedsDir); os.IsNotExist(err) {
		s.logger.Warn("Seeds directory not found", zap.String("dir", s.seedsDir))
		return nil
	}

	var loaded, failed int
	err := filepath.Walk(s.seedsDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".yaml") {
			return nil
		}
		if err := s.loadSeed(p); err != nil {
			s.logger.Warn("Failed to load seed", zap.String("file", info.Name()), zap.Error(err))
			failed++
		} else {
			loaded++
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("Seeding complete", zap.Int("loaded", loaded), zap.Int("failed", failed))
	return nil
}

func (s *Seeder) loadSeed(seedPath string) error {
	raw, err := os.ReadFile(seedPath)
	if err != nil {
		return err
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if seed.Artifact.ID == "" {
		return fmt.Errorf("artifact.id is required")
	}
	runtimeType := types.RuntimeType(seed.Artifact.Type)
	if !runtimeType.Valid() {
		return fmt.Errorf("unknown runtime type %q", seed.Artifact.Type)
	}
	if len(seed.Assets) == 0 {
		return fmt.Errorf("artifact %s declares no assets", seed.Artifact.ID)
	}

	a := &Artifact{
		ID:             seed.Artifact.ID,
		RuntimeType:    runtimeType,
		RuntimeVersion: seed.Artifact.RuntimeVersion,
		Version:        seed.Artifact.Version,
		AssetPaths:     make(map[string]string, len(seed.Assets)),
		assets:         make(map[string]Asset, len(seed.Assets)),
	}

	dir := filepath.Dir(seedPath)
	for name, rel := range seed.Assets {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("asset %q: %w", name, err)
		}
		servePath := "/" + path.Clean(strings.TrimPrefix(rel, "/"))

		// Untrusted markup documents are sanitized before they are
		// ever served.
		if runtimeType == types.RuntimeMarkup && name == "document" {
			data = s.policy.SanitizeBytes(data)
		}

		a.AssetPaths[name] = servePath
		a.assets[servePath] = Asset{
			Path:        servePath,
			ContentType: detectContentType(servePath, data),
			Data:        data,
		}
	}

	if err := a.finalize(); err != nil {
		return err
	}
	return s.catalog.Register(a)
}

// detectContentType sniffs asset bytes, preferring the extension for
// text formats that sniffing cannot tell apart.
func detectContentType(p string, data []byte) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html; charset=utf-8"
	}
	return mimetype.Detect(data).String()
}
