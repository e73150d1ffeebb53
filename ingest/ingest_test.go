package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/chunker"
	"github.com/hupe1980/vecbench/docstore"
	"github.com/hupe1980/vecbench/embedding"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "a.md", "# Alpha\n\nAlpha is the first letter. It starts everything.")
	writeFile(t, root, "notes/b.txt", "Bravo follows alpha in the phonetic alphabet.")
	writeFile(t, root, "notes/deep/c.md", "Charlie is third.")
	writeFile(t, root, "node_modules/pkg/readme.md", "should be excluded")
	writeFile(t, root, "image.png", "not matched")
	return root
}

func newPipeline(t *testing.T, docs docstore.Store, opts ...Option) *Pipeline {
	t.Helper()
	gw, err := embedding.NewGateway(embedding.NewHashProvider(32))
	require.NoError(t, err)
	base := []Option{
		WithChunking(chunker.Options{Mode: chunker.ModeFixed, Size: 20, Overlap: 5}),
		WithWorkers(2),
	}
	p, err := New(docs, gw, append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestDiscover(t *testing.T) {
	root := fixture(t)

	m, err := NewMatcher(DefaultIncludes, DefaultExcludes)
	require.NoError(t, err)
	files, err := m.Discover(root)
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
		assert.True(t, filepath.IsAbs(f.Abs))
		assert.Positive(t, f.Size)
	}
	assert.Equal(t, []string{"a.md", "notes/b.txt", "notes/deep/c.md"}, paths)

	m, err = NewMatcher([]string{"notes/**"}, []string{"**/deep/**"})
	require.NoError(t, err)
	files, err = m.Discover(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "notes/b.txt", files[0].Path)
}

func TestInvalidPattern(t *testing.T) {
	_, err := NewMatcher([]string{"[unclosed"}, nil)
	assert.ErrorIs(t, err, vecbench.ErrConfig)

	var pe *PatternError
	assert.ErrorAs(t, err, &pe)
}

func TestNewRejectsBadChunking(t *testing.T) {
	gw, err := embedding.NewGateway(embedding.NewHashProvider(8))
	require.NoError(t, err)
	_, err = New(docstore.NewMemoryStore(), gw, WithChunking(chunker.Options{Mode: chunker.ModeFixed, Size: 10, Overlap: 10}))
	assert.ErrorIs(t, err, vecbench.ErrConfig)
}

func TestIngestAndReingest(t *testing.T) {
	ctx := context.Background()
	root := fixture(t)
	docs := docstore.NewMemoryStore()

	var calls int
	p := newPipeline(t, docs, WithProgress(func(done, total int, _ string) {
		calls++
		assert.LessOrEqual(t, done, total)
	}))

	res, err := p.Ingest(ctx, root)
	require.NoError(t, err)
	assert.Len(t, res.Documents, 3)
	assert.Empty(t, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, calls)

	stored, err := docs.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	var total int
	for _, d := range res.Documents {
		assert.Equal(t, 20, d.ChunkSize)
		assert.Equal(t, 5, d.ChunkOverlap)
		assert.Len(t, d.SHA256, 64)
		chunks, err := docs.DocumentChunks(ctx, d.ID)
		require.NoError(t, err)
		assert.Len(t, chunks, d.ChunkCount)
		total += len(chunks)
	}
	assert.Equal(t, total, res.Chunks)

	vecs, err := p.Vectors(ctx, embedding.HashModel)
	require.NoError(t, err)
	assert.Len(t, vecs, total)
	ids := map[string]bool{}
	for _, v := range vecs {
		assert.False(t, ids[v.ID])
		ids[v.ID] = true
		assert.Len(t, v.Values, 32)
	}

	// Unchanged files are skipped and keep their ids.
	res2, err := p.Ingest(ctx, root)
	require.NoError(t, err)
	assert.Empty(t, res2.Documents)
	assert.Len(t, res2.Skipped, 3)

	// A modified file is re-chunked under the same document id.
	before, err := docs.FindByPath(ctx, "a.md")
	require.NoError(t, err)
	writeFile(t, root, "a.md", strings.Repeat("changed text ", 10))
	res3, err := p.Ingest(ctx, root)
	require.NoError(t, err)
	require.Len(t, res3.Documents, 1)
	assert.Equal(t, before.ID, res3.Documents[0].ID)
	assert.NotEqual(t, before.SHA256, res3.Documents[0].SHA256)
}

func TestIngestPrune(t *testing.T) {
	ctx := context.Background()
	root := fixture(t)
	docs := docstore.NewMemoryStore()
	p := newPipeline(t, docs, WithPrune(true))

	_, err := p.Ingest(ctx, root)
	require.NoError(t, err)

	gone, err := docs.FindByPath(ctx, "notes/b.txt")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "notes", "b.txt")))

	res, err := p.Ingest(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []string{gone.ID}, res.Pruned)

	_, err = docs.Document(ctx, gone.ID)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestIngestRecordsFileErrors(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "ok.txt", "plain text")
	writeFile(t, root, "bad.txt", string([]byte{0xff, 0xfe, 0x00}))
	writeFile(t, root, "big.txt", strings.Repeat("x", 100))

	p := newPipeline(t, docstore.NewMemoryStore(), WithMaxFileBytes(50))
	res, err := p.Ingest(ctx, root)
	require.NoError(t, err)

	require.Len(t, res.Documents, 1)
	assert.Equal(t, "ok.txt", res.Documents[0].Path)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "bad.txt", res.Errors[0].Path)
	assert.ErrorIs(t, res.Errors[0].Err, ErrNotText)
	assert.Equal(t, "big.txt", res.Errors[1].Path)
}

func TestVectorsRejectsUnknownModel(t *testing.T) {
	p := newPipeline(t, docstore.NewMemoryStore())
	_, err := p.Vectors(context.Background(), "nope")
	assert.ErrorIs(t, err, vecbench.ErrConfig)
}

func TestVectorsEmptyStore(t *testing.T) {
	p := newPipeline(t, docstore.NewMemoryStore())
	vecs, err := p.Vectors(context.Background(), embedding.HashModel)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}
