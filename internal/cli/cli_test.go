package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbench/benchmark"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/query"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func writeWorkspace(t *testing.T) (cfgPath, docsDir string) {
	t.Helper()
	dir := t.TempDir()
	docsDir = filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))

	files := map[string]string{
		"deploy.md": "# Deploying\n\nRun the release pipeline and roll out the service to staging first.\n\n" +
			"## Rollback\n\nIf health checks fail, revert to the previous release tag.\n",
		"keys.txt": "Rotate API keys every ninety days. Old keys stay valid for one hour after rotation.",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(docsDir, name), []byte(body), 0o600))
	}

	cfgPath = filepath.Join(dir, "vecbench.yaml")
	yml := fmt.Sprintf(`embedding:
  provider: hash
  model: hash
  dimension: 256
chunking:
  mode: fixed
  chunk_size: 80
  chunk_overlap: 10
storage:
  backend: local
  dir: %s
  catalog: bolt
  metadata_path: %s
benchmark:
  k: 3
  queries: 4
  warmup: 1
logging:
  level: error
`, filepath.Join(dir, "indexes"), filepath.Join(dir, "meta.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(yml), 0o600))
	return cfgPath, docsDir
}

func TestWorkflow(t *testing.T) {
	cfgPath, docsDir := writeWorkspace(t)
	dir := filepath.Dir(cfgPath)

	out := execute(t, "--config", cfgPath, "ingest", docsDir)
	assert.Regexp(t, `Documents written:\s+2`, out)

	out = execute(t, "--config", cfgPath, "ingest", docsDir)
	assert.Regexp(t, `Unchanged:\s+2`, out)

	out = execute(t, "--config", cfgPath, "build")
	assert.Contains(t, out, "Published default v1")

	out = execute(t, "--config", cfgPath, "query", "-q", "rotate api keys", "--json")
	var hits []query.Hit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), 5)
	assert.Equal(t, "keys.txt", hits[0].Path)

	out = execute(t, "--config", cfgPath, "query", "-q", "rollback release tag", "--hybrid", "--bm25-k", "5", "--json")
	hits = nil
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.NotEmpty(t, hits)
	assert.Equal(t, "deploy.md", hits[0].Path)
	assert.Positive(t, hits[0].RRFScore)

	out = execute(t, "--config", cfgPath, "versions")
	assert.Contains(t, out, "hnsw")

	report := filepath.Join(dir, "report.json")
	execute(t, "--config", cfgPath, "bench", "--format", "json", "--out", report)
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var recs []benchmark.Record
	require.NoError(t, json.Unmarshal(data, &recs))
	require.Len(t, recs, 4)
	assert.Equal(t, index.KindFlat, recs[0].Config.Kind)
	assert.False(t, recs[0].Failed())
	assert.Equal(t, 1.0, recs[0].RecallAtK)
}

func TestSampleQueries(t *testing.T) {
	dataset := []index.Vector{
		{ID: "a", Values: []float32{1}},
		{ID: "b", Values: []float32{2}},
		{ID: "c", Values: []float32{3}},
	}
	assert.Equal(t, sampleQueries(dataset, 2, 7), sampleQueries(dataset, 2, 7))
	assert.Len(t, sampleQueries(dataset, 2, 7), 2)
	assert.Len(t, sampleQueries(dataset, 10, 7), 3)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\n\n b", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
	assert.Equal(t, "abcdef", preview("abcdef", 0))
}
