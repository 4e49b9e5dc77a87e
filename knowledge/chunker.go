package knowledge

import "strings"

// defaultSeparators is ordered from coarse to fine: paragraph breaks first,
// then lines, sentence punctuation, clause punctuation, words, and finally
// bare characters as the last resort.
var defaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

type chunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

func newChunker(chunkSize, overlap int) *chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &chunker{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}
}

// split breaks text into overlapping chunks of at most chunkSize runes. It is
// a pure function of (text, chunkSize, overlap, separators): the same input
// always yields the same output. It descends to a finer separator only when a
// segment still exceeds the size bound, so a single atomic token longer than
// chunkSize passes through unsplit.
func (c *chunker) split(text string) []string {
	cleaned := normalizeNewlines(text)
	if strings.TrimSpace(cleaned) == "" {
		return nil
	}

	pieces := c.splitRecursive(cleaned, c.separators)
	merged := c.merge(pieces)

	chunks := make([]string, 0, len(merged))
	for _, chunk := range merged {
		trimmed := strings.TrimSpace(chunk)
		if trimmed == "" {
			continue
		}
		chunks = append(chunks, trimmed)
	}
	return chunks
}

// splitRecursive returns pieces that each fit the size bound, except for
// atoms that no separator can break. Separators stay attached to the piece
// they terminate so that concatenating pieces reconstructs the input.
func (c *chunker) splitRecursive(text string, separators []string) []string {
	if runeLen(text) <= c.chunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]

	if sep == "" {
		return splitRunes(text, c.chunkSize)
	}
	if !strings.Contains(text, sep) {
		return c.splitRecursive(text, rest)
	}

	parts := strings.SplitAfter(text, sep)
	pieces := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if runeLen(part) <= c.chunkSize {
			pieces = append(pieces, part)
			continue
		}
		pieces = append(pieces, c.splitRecursive(part, rest)...)
	}
	return pieces
}

// merge greedily packs pieces into chunks bounded by chunkSize, carrying the
// trailing pieces of each finished chunk into the next one as overlap.
func (c *chunker) merge(pieces []string) []string {
	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, ""))

		// Keep a tail of pieces within the overlap budget as the seed of
		// the next chunk.
		var tail []string
		tailLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			pieceLen := runeLen(current[i])
			if tailLen+pieceLen > c.overlap {
				break
			}
			tail = append([]string{current[i]}, tail...)
			tailLen += pieceLen
		}
		current = tail
		currentLen = tailLen
	}

	for _, piece := range pieces {
		pieceLen := runeLen(piece)
		if currentLen+pieceLen > c.chunkSize && currentLen > 0 {
			flush()
			// The overlap tail alone may already crowd out the new piece.
			for currentLen+pieceLen > c.chunkSize && len(current) > 0 {
				currentLen -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		currentLen += pieceLen
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, ""))
	}
	return chunks
}

func normalizeNewlines(value string) string {
	if value == "" {
		return ""
	}
	replaced := strings.ReplaceAll(value, "\r\n", "\n")
	return strings.ReplaceAll(replaced, "\r", "\n")
}

func runeLen(s string) int {
	return len([]rune(s))
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	pieces := make([]string, 0, (len(runes)/size)+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

func estimateTokenCount(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	words := len(strings.Fields(trimmed))
	runes := runeLen(trimmed)
	estimate := words + runes/3
	if estimate < words {
		estimate = words
	}
	if estimate <= 0 {
		estimate = runes/2 + 1
	}
	return estimate
}
