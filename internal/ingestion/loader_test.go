package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragvec-go/internal/rag"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadDocuments_Directory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "b.md", "# second")
	writeFile(t, dir, "a.txt", "first")
	writeFile(t, dir, "ignored.bin", "\x00\x01")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o700))

	docs, err := LoadDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "first", docs[0].Content)
	assert.Equal(t, "a.txt", docs[0].Metadata["name"])
	assert.Equal(t, filepath.Join(dir, "a.txt"), docs[0].Metadata["source"])
	assert.Equal(t, "# second", docs[1].Content)
	assert.Equal(t, "b.md", docs[1].Metadata["name"])
}

func TestLoadDocuments_PlainFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "notes.rst", "hello")

	docs, err := LoadDocuments(p)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hello", docs[0].Content)
	assert.Equal(t, "notes.rst", docs[0].Metadata["name"])
}

func TestLoadDocuments_JSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "docs.json", `[
		{"content": "one", "metadata": {"name": "doc1", "page": 3, "draft": true}},
		{"content": "two", "metadata": null},
		{"content": "three"}
	]`)

	docs, err := LoadDocuments(p)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, map[string]any{"name": "doc1", "page": float64(3), "draft": true}, docs[0].Metadata)
	assert.Nil(t, docs[1].Metadata, "null metadata stays nil")
	assert.Nil(t, docs[2].Metadata, "absent metadata stays nil")
}

func TestParseJSONDocuments_NonObjectMetadata(t *testing.T) {
	t.Parallel()
	for _, body := range []string{
		`[{"content": "x", "metadata": "name"}]`,
		`[{"content": "x", "metadata": [1, 2]}]`,
		`[{"content": "x", "metadata": 7}]`,
	} {
		_, err := ParseJSONDocuments([]byte(body))
		assert.ErrorIs(t, err, rag.ErrInvalidArgument, body)
	}
}

func TestParseJSONDocuments_Malformed(t *testing.T) {
	t.Parallel()
	_, err := ParseJSONDocuments([]byte(`{"content": "not an array"}`))
	assert.ErrorIs(t, err, rag.ErrInvalidArgument)
}

func TestLoadDocuments_JSONLines(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "docs.jsonl",
		`{"content": "one", "metadata": {"name": "a"}}`+"\n"+
			"\n"+
			`{"content": "two", "metadata": {"name": "b"}}`+"\n")

	docs, err := LoadDocuments(p)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "two", docs[1].Content)
	assert.Equal(t, "b", docs[1].Metadata["name"])
}

func TestLoadDocuments_JSONLinesBadLine(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "docs.jsonl", `{"content": "one", "metadata": {}}`+"\nnot json\n")

	_, err := LoadDocuments(p)
	require.ErrorIs(t, err, rag.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadDocuments_YAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "docs.yaml", `
- content: one
  metadata:
    name: doc1
    page: 3
- content: two
  metadata: ~
- content: three
`)

	docs, err := LoadDocuments(p)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, map[string]any{"name": "doc1", "page": 3}, docs[0].Metadata)
	assert.Nil(t, docs[1].Metadata)
	assert.Nil(t, docs[2].Metadata)
}

func TestLoadDocuments_YAMLNonMapping(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "docs.yml", `
- content: one
  metadata: [a, b]
`)
	_, err := LoadDocuments(p)
	assert.ErrorIs(t, err, rag.ErrInvalidArgument)
}

func TestLoadDocuments_Missing(t *testing.T) {
	t.Parallel()
	_, err := LoadDocuments(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
