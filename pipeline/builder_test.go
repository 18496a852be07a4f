package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpusFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadCorpusDir(t *testing.T) {
	t.Run("collects markdown files with frontmatter metadata", func(t *testing.T) {
		root := t.TempDir()
		writeCorpusFile(t, root, "docs/guide.md", "---\ntitle: Setup Guide\nversion: \"2\"\n---\n# Setup\n\nBody text.")
		writeCorpusFile(t, root, "docs/advanced/tuning.mdx", "# Tuning\n\nKnobs.")
		writeCorpusFile(t, root, "README.txt", "not markdown")
		writeCorpusFile(t, root, ".git/config.md", "# hidden")

		documents, err := LoadCorpusDir(root)
		require.NoError(t, err)
		require.Len(t, documents, 2)

		byID := map[string]int{}
		for i, doc := range documents {
			byID[doc.DocID] = i
		}

		guide := documents[byID["docs/guide.md"]]
		assert.Equal(t, "Setup Guide", guide.Title)
		assert.Equal(t, "2", guide.Version)
		assert.NotContains(t, guide.Content, "title:")
		assert.Contains(t, guide.Content, "# Setup")
		assert.Len(t, guide.Checksum, 64)

		tuning := documents[byID["docs/advanced/tuning.mdx"]]
		assert.Equal(t, "Tuning", tuning.Title, "title falls back to the first heading")
		assert.Equal(t, "latest", tuning.Version, "version defaults to latest")
	})

	t.Run("checksum covers the raw file including frontmatter", func(t *testing.T) {
		root := t.TempDir()
		writeCorpusFile(t, root, "a.md", "---\ntitle: One\n---\nSame body.")
		writeCorpusFile(t, root, "b.md", "---\ntitle: Two\n---\nSame body.")

		documents, err := LoadCorpusDir(root)
		require.NoError(t, err)
		require.Len(t, documents, 2)
		assert.NotEqual(t, documents[0].Checksum, documents[1].Checksum)
	})

	t.Run("empty directory yields no documents", func(t *testing.T) {
		documents, err := LoadCorpusDir(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, documents)
	})
}

func TestLoadCorpusJSONL(t *testing.T) {
	t.Run("reads records and skips malformed lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "corpus.jsonl")
		content := `{"id":"docs/a","text":"# A\n\nAlpha.","metadata":{"title":"Alpha","path":"docs/a.md","version":"3"}}
not valid json
{"id":"","text":"missing id"}

{"id":"docs/b","text":"Beta body."}
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		documents, err := LoadCorpusJSONL(path)
		require.NoError(t, err)
		require.Len(t, documents, 2)

		assert.Equal(t, "docs/a", documents[0].DocID)
		assert.Equal(t, "Alpha", documents[0].Title)
		assert.Equal(t, "docs/a.md", documents[0].Path)
		assert.Equal(t, "3", documents[0].Version)

		assert.Equal(t, "docs/b", documents[1].DocID)
		assert.Equal(t, "latest", documents[1].Version)
		assert.Equal(t, "docs/b", documents[1].Path)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := LoadCorpusJSONL(filepath.Join(t.TempDir(), "absent.jsonl"))
		require.Error(t, err)
	})
}

func TestStripFrontmatter(t *testing.T) {
	t.Run("extracts scalar pairs and strips the block", func(t *testing.T) {
		body, front := stripFrontmatter("---\ntitle: \"Quoted Title\"\ndraft: false\n---\nContent here.")
		assert.Equal(t, "Content here.", body)
		assert.Equal(t, "Quoted Title", front["title"])
		assert.Equal(t, "false", front["draft"])
	})

	t.Run("content without frontmatter passes through", func(t *testing.T) {
		body, front := stripFrontmatter("# Heading\n\nBody.")
		assert.Equal(t, "# Heading\n\nBody.", body)
		assert.Empty(t, front)
	})

	t.Run("unterminated block is left alone", func(t *testing.T) {
		raw := "---\ntitle: Broken"
		body, front := stripFrontmatter(raw)
		assert.Equal(t, raw, body)
		assert.Empty(t, front)
	})
}
