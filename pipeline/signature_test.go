package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexSignature(t *testing.T) {
	params := NewChunker(500, 80, 2000).Params()

	t.Run("stable across calls", func(t *testing.T) {
		a := IndexSignature("text-embedding-004", 768, params, "kb_chunks_text_embedding_004")
		b := IndexSignature("text-embedding-004", 768, params, "kb_chunks_text_embedding_004")
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("every parameter participates", func(t *testing.T) {
		base := IndexSignature("m", 768, params, "t")

		assert.NotEqual(t, base, IndexSignature("m2", 768, params, "t"))
		assert.NotEqual(t, base, IndexSignature("m", 1536, params, "t"))
		assert.NotEqual(t, base, IndexSignature("m", 768, params, "t2"))
		assert.NotEqual(t, base, IndexSignature("m", 768, NewChunker(400, 80, 2000).Params(), "t"))
		assert.NotEqual(t, base, IndexSignature("m", 768, NewChunker(500, 40, 2000).Params(), "t"))
		assert.NotEqual(t, base, IndexSignature("m", 768, NewChunker(500, 80, 1000).Params(), "t"))
	})

	t.Run("map ordering does not matter", func(t *testing.T) {
		a := map[string]interface{}{"x": 1, "y": "z", "nested": map[string]interface{}{"p": 2, "q": 3}}
		b := map[string]interface{}{"nested": map[string]interface{}{"q": 3, "p": 2}, "y": "z", "x": 1}
		assert.Equal(t, canonicalJSON(a), canonicalJSON(b))
	})
}
