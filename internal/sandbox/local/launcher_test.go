package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/runtime/internal/artifacts"
	"github.com/capsulehq/runtime/internal/domain/admission"
	"github.com/capsulehq/runtime/internal/domain/budget"
	"github.com/capsulehq/runtime/internal/domain/manifest"
	"github.com/capsulehq/runtime/internal/domain/session"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/shared/types"
)

type scriptedLoader struct{}

func (scriptedLoader) Load(ctx context.Context, artifactID string) (*manifest.Manifest, error) {
	return &manifest.Manifest{
		ArtifactID:     artifactID,
		RuntimeType:    types.RuntimeScripted,
		RuntimeVersion: "1.0.0",
		SchemaVersion:  1,
		Assets: map[string]string{
			"bootstrap": "/bootstrap.js",
			"bundle":    "/bundle.js",
		},
	}, nil
}

func seedScriptedCatalog(t *testing.T, script string) *artifacts.Catalog {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle.js"), []byte(script), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bootstrap.js"), []byte("// loader shim"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(`
artifact:
  id: art_demo
  type: scripted-component
  runtime_version: "1.0.0"
  version: 1
assets:
  bootstrap: bootstrap.js
  bundle: bundle.js
`), 0o644))

	catalog := artifacts.NewCatalog()
	require.NoError(t, artifacts.NewSeeder(catalog, dir, logging.NewNop()).Seed())
	return catalog
}

func newDemoManager(t *testing.T, catalog *artifacts.Catalog) *session.Manager {
	t.Helper()
	budgets := budget.NewRegistry()
	launcher := NewLauncher(catalog, logging.NewNop())
	mgr := session.NewManager(session.Deps{
		Loader:    scriptedLoader{},
		Budgets:   budgets,
		Admission: admission.NewRegistry(budgets),
		Logger:    logging.NewNop(),
		OnCreate:  launcher.Bind,
	})
	t.Cleanup(mgr.DisposeAll)
	return mgr
}

func TestLauncherBootsScriptedBundle(t *testing.T) {
	catalog := seedScriptedCatalog(t, `capsule.ready();`)
	mgr := newDemoManager(t, catalog)

	s, err := mgr.Create(context.Background(), session.Options{
		Surface:    types.SurfaceFeed,
		ArtifactID: "art_demo",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Snapshot().Status == types.StatusReady
	}, 2*time.Second, 5*time.Millisecond, "in-process driver should deliver ready")
}

func TestLauncherRelaunchesOnRestart(t *testing.T) {
	catalog := seedScriptedCatalog(t, `capsule.ready();`)
	mgr := newDemoManager(t, catalog)

	s, err := mgr.Create(context.Background(), session.Options{
		Surface:    types.SurfaceFeed,
		ArtifactID: "art_demo",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Snapshot().Status == types.StatusReady
	}, 2*time.Second, 5*time.Millisecond)
	firstRun := s.Snapshot().RunID

	require.NoError(t, s.Restart(context.Background()))
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Status == types.StatusReady && snap.RunID != firstRun
	}, 2*time.Second, 5*time.Millisecond, "a fresh driver should serve the new run")
}

func TestLauncherIgnoresUnseededArtifact(t *testing.T) {
	catalog := artifacts.NewCatalog()
	mgr := newDemoManager(t, catalog)

	s, err := mgr.Create(context.Background(), session.Options{
		Surface:    types.SurfaceFeed,
		ArtifactID: "art_absent",
	})
	require.NoError(t, err)

	// Nothing attaches; the session stays loading until its budget
	// would expire.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, types.StatusLoading, s.Snapshot().Status)
}
