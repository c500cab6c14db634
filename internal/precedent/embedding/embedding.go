// Package embedding turns canonical precedent text into fixed-length vectors.
package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"

	dErrors "accord/pkg/domain-errors"
)

//go:generate mockgen -source=embedding.go -destination=mocks/embedding_mock.go -package=mocks TextEmbedder

// TextEmbedder maps text to a vector. Implementations must be deterministic:
// equal text yields an equal vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// DefaultDimensions is the vector width of the hashing embedder.
const DefaultDimensions = 256

// HashEmbedder is a feature-hashing embedder over unigrams and bigrams.
// It needs no model files and runs entirely in-process.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder builds an embedder producing vectors of width dims.
func NewHashEmbedder(dims int) (*HashEmbedder, error) {
	if dims < 8 {
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration, "embedding dimensions must be at least 8, got %d", dims)
	}
	return &HashEmbedder{dims: dims}, nil
}

func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

// Embed returns an L2-normalised vector. Text without tokens yields the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, e.dims)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok)
		}
	}
	normalize(vec)
	return vec, nil
}

func (e *HashEmbedder) add(vec []float64, feature string) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(e.dims)
	if h>>63 == 1 {
		vec[idx]--
		return
	}
	vec[idx]++
}

func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	n := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= n
	}
}

// Tokenize lower-cases NFC-normalised text and splits it on anything that is
// not a letter or digit.
func Tokenize(text string) []string {
	text = strings.ToLower(norm.NFC.String(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
