package rag

import "strings"

type TextChunk struct {
	Index int
	Text  string
}

// Chunk splits text into windows of size runes where consecutive windows share
// overlap runes. The last window ends at the end of the input. Input that is
// empty or whitespace only yields no chunks; anything else yields at least one.
func Chunk(text string, size, overlap int) ([]TextChunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidChunkConfig
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := size - overlap
	chunks := make([]TextChunk, 0, len(runes)/step+1)
	for start := 0; ; start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, TextChunk{Index: len(chunks), Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
