package library

import "strings"

const (
	targetChunkSize = 1000
	minChunkSize    = 200
	maxChunkSize    = 2000
)

// splitChunks breaks text into chunks of roughly targetChunkSize runes,
// preferring blank-line boundaries. Paragraphs are packed together until
// the target is reached; oversized paragraphs are hard-split at
// maxChunkSize. Chunks below minChunkSize are merged into their neighbor
// rather than emitted alone, except when the whole text is that short.
func splitChunks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := splitParagraphs(text)

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(current.String()))
		current.Reset()
	}

	for _, p := range paragraphs {
		for len([]rune(p)) > maxChunkSize {
			runes := []rune(p)
			flush()
			chunks = append(chunks, strings.TrimSpace(string(runes[:maxChunkSize])))
			p = string(runes[maxChunkSize:])
		}
		if current.Len() > 0 && current.Len()+len(p) > targetChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	// Fold a trailing short chunk into the previous one.
	if n := len(chunks); n > 1 && len([]rune(chunks[n-1])) < minChunkSize {
		merged := chunks[n-2] + "\n\n" + chunks[n-1]
		if len([]rune(merged)) <= maxChunkSize {
			chunks = append(chunks[:n-2], merged)
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
