package text

import (
	"errors"
	"fmt"

	"papermind/internal/config"
)

var ErrInvalidChunkParams = fmt.Errorf("%w: chunk overlap must satisfy 0 <= overlap < size", config.ErrConfiguration)

type Chunk struct {
	DocumentID    string
	SequenceIndex int
	Text          string
}

// ChunkText splits text into windows of size characters (Unicode code points),
// each starting size-overlap characters after the previous one. Windowing
// stops at the first window that reaches the end of the text.
func ChunkText(text string, size, overlap int) ([]string, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w (size=%d overlap=%d)", ErrInvalidChunkParams, size, overlap)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; ; start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks, nil
}

func ChunkDocument(documentID, text string, size, overlap int) ([]Chunk, error) {
	if documentID == "" {
		return nil, errors.New("chunk document: empty document id")
	}
	windows, err := ChunkText(text, size, overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = Chunk{DocumentID: documentID, SequenceIndex: i, Text: w}
	}
	return chunks, nil
}

// Reassemble removes the overlap between consecutive windows.
func Reassemble(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []rune(chunks[0])
	for _, c := range chunks[1:] {
		r := []rune(c)
		if len(r) > overlap {
			out = append(out, r[overlap:]...)
		}
	}
	return string(out)
}
