// Package chunker splits document text into overlapping spans.
//
// All sizes and offsets count characters (Unicode code points), not bytes.
// Every mode returns a lazy, restartable sequence: ranging over it twice
// yields the same chunks.
//
//	seq, err := chunker.Fixed("doc-1", text, 1000, 150)
//	if err != nil {
//	    return err
//	}
//	for c := range seq {
//	    fmt.Println(c.ID, c.Start, c.End)
//	}
package chunker

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"unicode"

	"github.com/hupe1980/vecbench"
)

const (
	// DefaultSize is the default chunk size in characters.
	DefaultSize = 1000

	// DefaultOverlap is the default overlap in characters.
	DefaultOverlap = 150
)

// Chunk is a contiguous span of a document.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
	Start      int    `json:"offset_start"`
	End        int    `json:"offset_end"` // exclusive
}

// ChunkID returns the id of the n-th chunk of a document.
func ChunkID(docID string, n int) string {
	return docID + "#" + strconv.Itoa(n)
}

// Mode selects the splitting strategy.
type Mode string

const (
	// ModeFixed slides a window of Size characters forward by Size-Overlap.
	ModeFixed Mode = "fixed"

	// ModeSentences packs whole sentences up to Size characters and prefixes
	// every chunk after the first with Overlap characters of preceding text.
	ModeSentences Mode = "sentences"

	// ModeHeadings splits at markdown (#) and <h1>-<h3> heading lines, then
	// applies fixed windows to each section.
	ModeHeadings Mode = "headings"
)

// ParseMode parses a mode name. The empty string selects ModeFixed.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeFixed, nil
	case ModeFixed, ModeSentences, ModeHeadings:
		return m, nil
	default:
		return "", vecbench.NewConfigError("chunk_mode", fmt.Sprintf("unknown mode %q", s))
	}
}

// Options configures a Chunker.
type Options struct {
	Mode    Mode `yaml:"mode" json:"mode"`
	Size    int  `yaml:"chunk_size" json:"chunk_size"`
	Overlap int  `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// DefaultOptions returns fixed-mode options with the default size and overlap.
func DefaultOptions() Options {
	return Options{Mode: ModeFixed, Size: DefaultSize, Overlap: DefaultOverlap}
}

// Validate checks that 0 <= Overlap < Size.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return vecbench.NewConfigError("chunk_size", fmt.Sprintf("must be positive, got %d", o.Size))
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return vecbench.NewConfigError("chunk_overlap", fmt.Sprintf("must be in [0, %d), got %d", o.Size, o.Overlap))
	}
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return err
	}
	return nil
}

// Chunker splits documents according to its Options.
type Chunker struct {
	opts Options
}

// New creates a Chunker after validating opts.
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Mode, _ = ParseMode(string(opts.Mode))
	return &Chunker{opts: opts}, nil
}

// Options returns the chunker configuration.
func (c *Chunker) Options() Options { return c.opts }

// Chunk returns the chunks of text. Empty text yields an empty sequence.
func (c *Chunker) Chunk(docID, text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		r := []rune(text)
		var spans [][2]int
		switch c.opts.Mode {
		case ModeSentences:
			spans = sentenceWindows(r, c.opts.Size, c.opts.Overlap)
		case ModeHeadings:
			spans = headingWindows(r, c.opts.Size, c.opts.Overlap)
		default:
			spans = windows(0, len(r), c.opts.Size, c.opts.Overlap)
		}
		for n, s := range spans {
			ch := Chunk{
				ID:         ChunkID(docID, n),
				DocumentID: docID,
				Seq:        n,
				Text:       string(r[s[0]:s[1]]),
				Start:      s[0],
				End:        s[1],
			}
			if !yield(ch) {
				return
			}
		}
	}
}

// Fixed validates size and overlap and returns the fixed-window chunks of text.
func Fixed(docID, text string, size, overlap int) (iter.Seq[Chunk], error) {
	c, err := New(Options{Mode: ModeFixed, Size: size, Overlap: overlap})
	if err != nil {
		return nil, err
	}
	return c.Chunk(docID, text), nil
}

// windows returns [start, end) spans covering [lo, hi) with the given width
// and overlap. The last window may be shorter.
func windows(lo, hi, size, overlap int) [][2]int {
	if lo >= hi {
		return nil
	}
	step := size - overlap
	var out [][2]int
	for start := lo; ; start += step {
		end := min(start+size, hi)
		out = append(out, [2]int{start, end})
		if end == hi {
			return out
		}
	}
}

func isTerminal(r rune) bool { return r == '.' || r == '!' || r == '?' }

// sentenceSpans splits r after runs of terminal punctuation followed by
// whitespace. The whitespace stays with the preceding sentence.
func sentenceSpans(r []rune) [][2]int {
	var spans [][2]int
	start := 0
	for i := 0; i < len(r); i++ {
		if !isTerminal(r[i]) {
			continue
		}
		j := i + 1
		for j < len(r) && isTerminal(r[j]) {
			j++
		}
		if j < len(r) && !unicode.IsSpace(r[j]) {
			i = j - 1
			continue
		}
		for j < len(r) && unicode.IsSpace(r[j]) {
			j++
		}
		spans = append(spans, [2]int{start, j})
		start = j
		i = j - 1
	}
	if start < len(r) {
		spans = append(spans, [2]int{start, len(r)})
	}
	return spans
}

func sentenceWindows(r []rune, size, overlap int) [][2]int {
	var packed [][2]int
	for _, s := range sentenceSpans(r) {
		if n := len(packed); n > 0 && s[1]-packed[n-1][0] <= size {
			packed[n-1][1] = s[1]
			continue
		}
		packed = append(packed, s)
	}

	var out [][2]int
	for i, p := range packed {
		start := p[0]
		if i > 0 {
			start = max(0, start-overlap)
		}
		if p[1]-p[0] <= size {
			out = append(out, [2]int{start, p[1]})
			continue
		}
		// A single sentence longer than size falls back to fixed windows.
		out = append(out, windows(start, p[1], size, overlap)...)
	}
	return out
}

func isHeading(line []rune) bool {
	s := strings.TrimLeftFunc(string(line), unicode.IsSpace)
	if strings.HasPrefix(s, "#") {
		return true
	}
	for _, tag := range []string{"<h1", "<h2", "<h3"} {
		if strings.HasPrefix(strings.ToLower(s), tag) {
			return true
		}
	}
	return false
}

func headingWindows(r []rune, size, overlap int) [][2]int {
	bounds := []int{0}
	for lineStart := 0; lineStart < len(r); {
		lineEnd := lineStart
		for lineEnd < len(r) && r[lineEnd] != '\n' {
			lineEnd++
		}
		if lineStart > 0 && isHeading(r[lineStart:lineEnd]) {
			bounds = append(bounds, lineStart)
		}
		lineStart = lineEnd + 1
	}
	bounds = append(bounds, len(r))

	var out [][2]int
	for i := 0; i+1 < len(bounds); i++ {
		lo, hi := bounds[i], bounds[i+1]
		if strings.TrimSpace(string(r[lo:hi])) == "" {
			continue
		}
		out = append(out, windows(lo, hi, size, overlap)...)
	}
	return out
}
