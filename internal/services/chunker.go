package services

import "strings"

// Chunks larger than this would crowd out other matches in the context
// block; paragraphs keep their boundaries where possible.
const maxChunkChars = 1200

// SplitChunks breaks normalized document text into indexable chunks.
// Paragraphs are packed greedily up to maxChunkChars; a single oversized
// paragraph is split on word boundaries.
func SplitChunks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if c := strings.TrimSpace(current.String()); c != "" {
			chunks = append(chunks, c)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > maxChunkChars {
			flush()
			chunks = append(chunks, splitWords(para)...)
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > maxChunkChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

func splitWords(para string) []string {
	var chunks []string
	var current strings.Builder

	for _, word := range strings.Fields(para) {
		if current.Len() > 0 && current.Len()+len(word)+1 > maxChunkChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}
