package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/hupe1980/vecbench/distance"
)

// HashModel is the model id served by HashProvider.
const HashModel = "hash"

// HashProvider embeds text by hashing lower-cased word unigrams and bigrams
// into a fixed number of signed buckets. Vectors are L2-normalized. It is
// deterministic, needs no network and is safe for concurrent use.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a feature-hashing provider producing dim-sized vectors.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = 384
	}
	return &HashProvider{dim: dim}
}

// Dimension returns the vector size.
func (p *HashProvider) Dimension() int { return p.dim }

// Models implements Provider.
func (p *HashProvider) Models() []string { return []string{HashModel} }

// Embed implements Provider.
func (p *HashProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if model != HashModel {
		return nil, Permanent(fmt.Errorf("hash provider: unknown model %q", model))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *HashProvider) vector(text string) []float32 {
	vec := make([]float32, p.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	add := func(feature string) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(p.dim)] += sign
	}
	for i, w := range words {
		add(w)
		if i > 0 {
			add(words[i-1] + " " + w)
		}
	}
	distance.NormalizeL2InPlace(vec)
	return vec
}
