package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LexicalEmbedder hashes lower-cased word unigrams and bigrams into a fixed
// number of buckets. It needs no model and makes identical requests score 1.
type LexicalEmbedder struct {
	dims int
}

// NewLexicalEmbedder creates a lexical embedder; dims <= 0 uses 512.
func NewLexicalEmbedder(dims int) *LexicalEmbedder {
	if dims <= 0 {
		dims = 512
	}
	return &LexicalEmbedder{dims: dims}
}

func (l *LexicalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		vec[l.bucket(w)] += 1
		if i > 0 {
			vec[l.bucket(words[i-1]+" "+w)] += 0.5
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (l *LexicalEmbedder) Dimensions() int { return l.dims }

func (l *LexicalEmbedder) Name() string { return "lexical" }

func (l *LexicalEmbedder) bucket(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(l.dims))
}
