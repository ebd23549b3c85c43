package ingest

import "strings"

// ChunkParams scales splitter parameters to document length so small
// documents keep fine-grained chunks and huge ones stay tractable.
func ChunkParams(length int) (size, overlap int) {
	switch {
	case length < 1_000:
		return length / 2, 20
	case length < 5_000:
		return length / 5, 50
	case length < 20_000:
		return length / 20, 100
	case length < 100_000:
		return length / 80, 200
	case length < 300_000:
		return length / 200, 400
	default:
		return 6_000, 600
	}
}

// SplitText splits text into rune windows of the given size with overlap.
// A non-positive size returns the whole text as a single chunk, which
// covers the degenerate tiny-document case where the computed size
// rounds down to zero.
func SplitText(text string, size, overlap int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if size <= 0 {
		return []string{trimmed}
	}
	runes := []rune(text)
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// ChunkDocument splits a document with size-adaptive parameters.
func ChunkDocument(text string) []string {
	size, overlap := ChunkParams(len([]rune(text)))
	return SplitText(text, size, overlap)
}

// normalizeText collapses whitespace and strips characters that upset
// downstream storage.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
