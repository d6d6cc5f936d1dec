package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsulehq/runtime/internal/domain/manifest"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/shared/types"
)

func writeSeed(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func seedDir(t *testing.T) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	return NewCatalog(), dir
}

func TestSeedScriptedArtifact(t *testing.T) {
	catalog, dir := seedDir(t)
	writeSeed(t, dir, "main.js", `capsule.ready();`)
	writeSeed(t, dir, "boot.js", `/* bootstrap */`)
	writeSeed(t, dir, "demo.yaml", `
artifact:
  id: art_demo
  type: scripted-component
  runtime_version: "1.2.0"
  version: 3
assets:
  bootstrap: boot.js
  bundle: main.js
`)

	require.NoError(t, NewSeeder(catalog, dir, logging.NewNop()).Seed())

	a, ok := catalog.Get("art_demo")
	require.True(t, ok)
	assert.Equal(t, types.RuntimeScripted, a.RuntimeType)
	assert.Equal(t, "/main.js", a.AssetPaths["bundle"])
	assert.Equal(t, int64(len(`capsule.ready();`)), a.SizeBytes)
	require.NoError(t, manifest.VerifyDigest([]byte(`capsule.ready();`), a.Digest))

	asset, ok := catalog.Asset("art_demo", "/main.js")
	require.True(t, ok)
	assert.Contains(t, asset.ContentType, "javascript")
}

func TestSeedSanitizesMarkup(t *testing.T) {
	catalog, dir := seedDir(t)
	writeSeed(t, dir, "index.html", `<p>hello</p><script>alert(1)</script>`)
	writeSeed(t, dir, "page.yaml", `
artifact:
  id: art_page
  type: markup
  runtime_version: "1.0.0"
  version: 1
assets:
  document: index.html
`)

	require.NoError(t, NewSeeder(catalog, dir, logging.NewNop()).Seed())

	asset, ok := catalog.Asset("art_page", "/index.html")
	require.True(t, ok)
	assert.Contains(t, string(asset.Data), "<p>hello</p>")
	assert.NotContains(t, string(asset.Data), "<script>")
}

func TestSeedSkipsBrokenFiles(t *testing.T) {
	catalog, dir := seedDir(t)
	writeSeed(t, dir, "broken.yaml", `artifact: [not a map`)
	writeSeed(t, dir, "nomeat.yaml", `
artifact:
  id: art_empty
  type: markup
`)

	require.NoError(t, NewSeeder(catalog, dir, logging.NewNop()).Seed())
	assert.Empty(t, catalog.IDs())
}

func TestSeedMissingDirIsNotAnError(t *testing.T) {
	catalog := NewCatalog()
	s := NewSeeder(catalog, filepath.Join(t.TempDir(), "absent"), logging.NewNop())
	assert.NoError(t, s.Seed())
}

func TestWireManifestShape(t *testing.T) {
	catalog, dir := seedDir(t)
	writeSeed(t, dir, "index.html", `<p>x</p>`)
	writeSeed(t, dir, "page.yaml", `
artifact:
  id: art_wire
  type: markup
  runtime_version: "2.0.0"
  version: 7
assets:
  document: index.html
`)
	require.NoError(t, NewSeeder(catalog, dir, logging.NewNop()).Seed())

	a, _ := catalog.Get("art_wire")
	doc := a.WireManifest()
	assert.Equal(t, "art_wire", doc["artifactId"])
	assert.Equal(t, "markup", doc["type"])

	inner := doc["manifest"].(map[string]any)
	bundle := inner["bundle"].(map[string]any)
	assert.NotEmpty(t, bundle["digest"])
	runtime := inner["runtime"].(map[string]any)
	assets := runtime["assets"].(map[string]any)
	assert.Equal(t, map[string]any{"path": "/index.html"}, assets["document"])
}
