package index

import (
	"strings"
)

// splitChunks splits content into chunks of roughly size words with overlap
// words carried between consecutive chunks. Sentence boundaries are
// preferred; a single sentence longer than size is split on word boundaries.
func splitChunks(content string, size, overlap int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 4
		}
	}

	var chunks []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))
		if overlap > 0 && len(current) > overlap {
			current = append([]string(nil), current[len(current)-overlap:]...)
		} else {
			current = nil
		}
	}

	for _, sentence := range splitSentences(content) {
		words := strings.Fields(sentence)

		// A sentence that alone exceeds the window is split hard.
		for len(words) > size {
			if len(current) > 0 {
				flush()
			}
			current = append(current, words[:size]...)
			words = words[size:]
			flush()
		}

		if len(current)+len(words) > size {
			flush()
		}
		current = append(current, words...)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// splitSentences splits text on sentence-ending punctuation followed by
// whitespace. Paragraph breaks also terminate a sentence.
func splitSentences(content string) []string {
	var sentences []string
	start := 0

	for i := 0; i < len(content); i++ {
		c := content[i]
		atEnd := false

		switch c {
		case '.', '!', '?':
			if i+1 >= len(content) || content[i+1] == ' ' || content[i+1] == '\n' || content[i+1] == '\t' {
				atEnd = true
			}
		case '\n':
			if i+1 < len(content) && content[i+1] == '\n' {
				atEnd = true
			}
		}

		if atEnd {
			if s := strings.TrimSpace(content[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}

	if s := strings.TrimSpace(content[start:]); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
