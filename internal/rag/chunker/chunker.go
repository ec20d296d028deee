package chunker

import (
	"regexp"
	"strings"

	"github.com/adevara/GoKB/internal/domain/kbModel"
)

var (
	lineEndings  = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	manyBlanksRe = regexp.MustCompile(`\n{3,}`)
	paragraphRe  = regexp.MustCompile(`\n\n+`)
	sentenceRe   = regexp.MustCompile(`([.!?])\s+`)
	wordRe       = regexp.MustCompile(`\s+`)
)

// Chunk splits text into byte-bounded chunks. Pure and deterministic: the same
// input always yields the same chunks, in document order.
//
// Accumulation happens paragraph-wise; a paragraph that alone overflows maxBytes
// falls back to sentence granularity, and an oversized sentence to words. A single
// word longer than maxBytes is emitted whole as its own oversized chunk - it is
// never truncated or split mid-rune. Lengths are measured in bytes, so multi-byte
// text counts the way the index will store it.
func Chunk(text string, maxBytes int) []kbModel.Chunk {
	cleaned := normalize(text)
	if cleaned == "" {
		return nil
	}

	var pieces []string
	var current strings.Builder

	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			pieces = append(pieces, trimmed)
		}
		current.Reset()
	}

	for _, paragraph := range paragraphRe.Split(cleaned, -1) {
		withBreak := paragraph + "\n\n"

		if current.Len()+len(withBreak) <= maxBytes {
			current.WriteString(withBreak)
			continue
		}
		flush()

		if len(withBreak) <= maxBytes {
			current.WriteString(withBreak)
			continue
		}

		//paragraph alone overflows: sentence granularity
		for _, sentence := range splitSentences(paragraph) {
			withSpace := sentence + " "

			if current.Len()+len(withSpace) <= maxBytes {
				current.WriteString(withSpace)
				continue
			}
			flush()

			if len(withSpace) <= maxBytes {
				current.WriteString(withSpace)
				continue
			}

			//sentence alone overflows: word granularity
			for _, word := range wordRe.Split(sentence, -1) {
				if word == "" {
					continue
				}
				wordWithSpace := word + " "
				if current.Len()+len(wordWithSpace) <= maxBytes {
					current.WriteString(wordWithSpace)
					continue
				}
				flush()
				//an indivisible oversized word is carried whole
				current.WriteString(wordWithSpace)
			}
		}
	}
	flush()

	chunks := make([]kbModel.Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, kbModel.Chunk{Text: p, ByteLength: len(p), Index: i})
	}
	return chunks
}

// normalize collapses line endings, squeezes 3+ newlines to a paragraph break and
// trims the edges.
func normalize(text string) string {
	cleaned := lineEndings.Replace(text)
	cleaned = manyBlanksRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// splitSentences breaks on whitespace that follows ., ! or ?, keeping the
// terminator with its sentence.
func splitSentences(paragraph string) []string {
	marked := sentenceRe.ReplaceAllString(paragraph, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
