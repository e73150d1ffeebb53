package chunker

import (
	"math/rand"
	"slices"
	"strings"
	"testing"

	"github.com/hupe1980/vecbench"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, c *Chunker, text string) []Chunk {
	t.Helper()
	return slices.Collect(c.Chunk("doc", text))
}

// assertCoverage checks that chunks tile text without gaps and that every
// chunk's text matches its offsets.
func assertCoverage(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	r := []rune(text)
	if len(r) == 0 || strings.TrimSpace(text) == "" {
		return
	}
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(r), chunks[len(chunks)-1].End)

	var rebuilt []rune
	for i, c := range chunks {
		require.LessOrEqual(t, 0, c.Start)
		require.LessOrEqual(t, c.End, len(r))
		require.Less(t, c.Start, c.End)
		assert.Equal(t, string(r[c.Start:c.End]), c.Text)
		assert.Equal(t, ChunkID("doc", i), c.ID)

		prevEnd := 0
		if i > 0 {
			prevEnd = chunks[i-1].End
			require.LessOrEqual(t, c.Start, prevEnd, "gap before chunk %d", i)
			require.Greater(t, c.End, prevEnd)
		}
		rebuilt = append(rebuilt, r[prevEnd:c.End]...)
	}
	assert.Equal(t, text, string(rebuilt))
}

func TestFixedExample(t *testing.T) {
	seq, err := Fixed("doc", "abcdefghijklmnopqrstuvwxyz", 10, 2)
	require.NoError(t, err)

	var spans [][2]int
	for c := range seq {
		spans = append(spans, [2]int{c.Start, c.End})
	}
	assert.Equal(t, [][2]int{{0, 10}, {8, 18}, {16, 26}}, spans)
}

func TestFixedEmptyText(t *testing.T) {
	seq, err := Fixed("doc", "", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, slices.Collect(seq))
}

func TestFixedValidation(t *testing.T) {
	for _, tt := range []struct{ size, overlap int }{{10, 10}, {10, 12}, {0, 0}, {5, -1}} {
		_, err := Fixed("doc", "text", tt.size, tt.overlap)
		var cfgErr *vecbench.ConfigError
		assert.ErrorAs(t, err, &cfgErr, "size=%d overlap=%d", tt.size, tt.overlap)
	}
}

func TestFixedRestartable(t *testing.T) {
	seq, err := Fixed("doc", strings.Repeat("xyz ", 40), 16, 4)
	require.NoError(t, err)
	assert.Equal(t, slices.Collect(seq), slices.Collect(seq))
}

func TestFixedCountsCharacters(t *testing.T) {
	seq, err := Fixed("doc", "äöüßéèêë", 3, 1)
	require.NoError(t, err)
	chunks := slices.Collect(seq)
	assert.Equal(t, "äöü", chunks[0].Text)
	assert.Equal(t, "üßé", chunks[1].Text)
	assertCoverage(t, "äöüßéèêë", chunks)
}

func TestCoverageProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abc de. f! gh? ij\n# k")

	for _, mode := range []Mode{ModeFixed, ModeSentences, ModeHeadings} {
		t.Run(string(mode), func(t *testing.T) {
			for i := 0; i < 200; i++ {
				n := rng.Intn(300)
				r := make([]rune, n)
				for j := range r {
					r[j] = alphabet[rng.Intn(len(alphabet))]
				}
				size := 1 + rng.Intn(40)
				overlap := rng.Intn(size)

				c, err := New(Options{Mode: mode, Size: size, Overlap: overlap})
				require.NoError(t, err)
				chunks := collect(t, c, string(r))
				if mode == ModeHeadings {
					assertSpans(t, string(r), chunks)
					continue
				}
				assertCoverage(t, string(r), chunks)
			}
		})
	}
}

// assertSpans checks offsets and text for modes that skip blank sections.
func assertSpans(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	r := []rune(text)
	for _, c := range chunks {
		require.Less(t, c.Start, c.End)
		require.LessOrEqual(t, c.End, len(r))
		assert.Equal(t, string(r[c.Start:c.End]), c.Text)
	}
}

func TestSentences(t *testing.T) {
	c, err := New(Options{Mode: ModeSentences, Size: 30, Overlap: 4})
	require.NoError(t, err)

	text := "One short line. Another one here! A third? And the last sentence."
	chunks := collect(t, c, text)
	require.Len(t, chunks, 3)
	assert.Equal(t, "One short line. ", chunks[0].Text)
	// Later chunks repeat the last four characters of the previous text.
	assert.Equal(t, "ne. Another one here! A third? ", chunks[1].Text)
	assert.Equal(t, "rd? And the last sentence.", chunks[2].Text)
	assertCoverage(t, text, chunks)
}

func TestHeadings(t *testing.T) {
	c, err := New(Options{Mode: ModeHeadings, Size: 100, Overlap: 10})
	require.NoError(t, err)

	text := "Intro text.\n# First\nbody one\n## Second\nbody two\n<h2>Third</h2>\nbody three"
	chunks := collect(t, c, text)
	require.Len(t, chunks, 4)
	assert.Equal(t, "Intro text.\n", chunks[0].Text)
	assert.Equal(t, "# First\nbody one\n", chunks[1].Text)
	assert.Equal(t, "## Second\nbody two\n", chunks[2].Text)
	assert.Equal(t, "<h2>Third</h2>\nbody three", chunks[3].Text)
	assertCoverage(t, text, chunks)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFixed, m)

	m, err = ParseMode("Sentences")
	require.NoError(t, err)
	assert.Equal(t, ModeSentences, m)

	_, err = ParseMode("paragraphs")
	assert.ErrorIs(t, err, vecbench.ErrConfig)
}
