package chunker

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWindows(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"no overlap", "abcdefg", 3, 0, []string{"abc", "def", "g"}},
		{"overlap one", "abcdefg", 3, 1, []string{"abc", "cde", "efg"}},
		{"window larger than text", "abcdefg", 9, 5, []string{"abcdefg"}},
		{"exact fit", "abcdef", 3, 0, []string{"abc", "def"}},
		{"empty", "", 3, 1, []string{}},
		{"multibyte", "ไทยภาษา", 3, 1, []string{"ไทย", "ยภา", "าษา"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.size, tt.overlap)
			require.NoError(t, err)
			got := []string{}
			for _, ch := range c.Split(&model.Document{ID: "d", Text: tt.text}) {
				got = append(got, ch.Text)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRejectsInvalidWindows(t *testing.T) {
	for _, tc := range [][2]int{{0, 0}, {-1, 0}, {5, 5}, {5, 6}, {5, -1}} {
		_, err := New(tc[0], tc[1])
		assert.Error(t, err, "size=%d overlap=%d", tc[0], tc[1])
	}
}

// reconstruct glues chunks back together, dropping each chunk's overlap
// with its predecessor.
func reconstruct(chunks []model.Chunk) string {
	var b strings.Builder
	prevEnd := 0
	for _, c := range chunks {
		r := []rune(c.Text)
		b.WriteString(string(r[prevEnd-c.Start:]))
		prevEnd = c.End
	}
	return b.String()
}

func TestCoverageAndBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abc déf\nghï 漢字")
	for i := 0; i < 200; i++ {
		n := rng.Intn(300)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		size := 1 + rng.Intn(40)
		overlap := rng.Intn(size)

		c, err := New(size, overlap)
		require.NoError(t, err)
		doc := &model.Document{ID: "doc", Path: "/p", Text: string(runes)}
		chunks := c.Split(doc)

		assert.Equal(t, doc.Text, reconstruct(chunks), "size=%d overlap=%d", size, overlap)
		for k, ch := range chunks {
			assert.LessOrEqual(t, len([]rune(ch.Text)), size)
			assert.Equal(t, k, ch.Ordinal)
			assert.GreaterOrEqual(t, ch.Start, 0)
			assert.LessOrEqual(t, ch.End, n)
			assert.Equal(t, model.ChunkID("doc", k), ch.ID)
		}
	}
}

func TestSplitAssignsDocumentFields(t *testing.T) {
	c, err := New(DefaultSize, DefaultOverlap)
	require.NoError(t, err)

	doc := &model.Document{ID: "d1", Path: "/docs/sky.txt", Text: "The sky is blue."}
	chunks := c.Split(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, model.Chunk{
		ID:         "d1:000000",
		DocumentID: "d1",
		Source:     "/docs/sky.txt",
		Ordinal:    0,
		Text:       "The sky is blue.",
		Start:      0,
		End:        16,
	}, chunks[0])
}
