package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRespectsSizeBound(t *testing.T) {
	c := newChunker(100, 20)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	chunks := c.split(text)
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, runeLen(chunk), 100, "chunk %d exceeds size bound", i)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	c := newChunker(80, 16)
	text := strings.Repeat("Alpha beta gamma delta.\n\nEpsilon zeta eta theta. ", 30)

	first := c.split(text)
	second := c.split(text)
	assert.Equal(t, first, second)
}

func TestSplitCoversWholeInput(t *testing.T) {
	c := newChunker(120, 0)
	text := strings.Repeat("One two three four five six seven eight nine ten. ", 25)

	chunks := c.split(text)
	require.NotEmpty(t, chunks)

	// With zero overlap, rejoining chunks reconstructs the input modulo
	// whitespace trimming at chunk edges.
	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	assert.Equal(t, normalize(text), normalize(strings.Join(chunks, " ")))
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	c := newChunker(60, 30)
	text := strings.Repeat("word ", 100)

	chunks := c.split(text)
	require.Greater(t, len(chunks), 1)

	// Each chunk after the first starts with text already seen at the end of
	// its predecessor.
	for i := 1; i < len(chunks); i++ {
		head := strings.Fields(chunks[i])[0]
		assert.Contains(t, chunks[i-1], head)
	}
}

func TestSplitDropsWhitespaceOnlyInput(t *testing.T) {
	c := newChunker(100, 20)
	assert.Nil(t, c.split("   \n\n\t  "))
	assert.Nil(t, c.split(""))
}

func TestSplitKeepsOversizedAtom(t *testing.T) {
	c := newChunker(50, 10)
	atom := strings.Repeat("x", 80)

	chunks := c.split(atom)
	require.NotEmpty(t, chunks)
	// A single token with no separators is cut at the rune level, never lost.
	assert.Equal(t, atom, strings.Join(chunks, ""))
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	c := newChunker(40, 0)
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."

	chunks := c.split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, "First paragraph here.", chunks[0])
	assert.Equal(t, "Second paragraph here.", chunks[1])
	assert.Equal(t, "Third paragraph here.", chunks[2])
}

func TestNewChunkerDefaults(t *testing.T) {
	c := newChunker(0, -1)
	assert.Equal(t, 1000, c.chunkSize)
	assert.Equal(t, 200, c.overlap)

	c = newChunker(100, 100)
	assert.Equal(t, 20, c.overlap)
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, estimateTokenCount("   "))
	assert.Greater(t, estimateTokenCount("hello world"), 0)
}
