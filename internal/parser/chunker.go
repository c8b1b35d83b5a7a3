package parser

import (
	"strings"
	"unicode/utf8"

	"document-qa/internal/helper"
	"document-qa/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"
)

// separators are tried in order: paragraph, line, word, character.
var separators = []string{"\n\n", "\n", " ", ""}

// ChunkDocuments splits every segment into chunks of at most chunkSize
// characters, consecutive chunks sharing up to chunkOverlap characters.
func (p *Processor) ChunkDocuments(segments []models.Segment) ([]models.Chunk, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithSeparators(separators),
		textsplitter.WithChunkSize(p.chunkSize),
		textsplitter.WithChunkOverlap(p.chunkOverlap),
	)

	var chunks []models.Chunk
	for _, seg := range segments {
		pieces, err := splitter.SplitText(seg.Content)
		if err != nil {
			return nil, err
		}
		pieces = fitPieces(pieces, p.chunkSize)
		offsets := startIndexes(seg.Content, pieces, p.chunkOverlap)
		for i, piece := range pieces {
			id, err := helper.GenerateUUID()
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, models.Chunk{
				ID:         id,
				Content:    piece,
				Source:     seg.Source,
				Page:       seg.Page,
				StartIndex: offsets[i],
			})
		}
	}

	log.Debug().Int("segments", len(segments)).Int("chunks", len(chunks)).Msg("Chunked document")
	return chunks, nil
}

// fitPieces re-cuts any piece longer than size runes. The recursive splitter
// stops counting the join separator once a single split is left in its
// window, so a merge ending in a long token can come out one rune over.
func fitPieces(pieces []string, size int) []string {
	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		for utf8.RuneCountInString(piece) > size {
			var head string
			head, piece = cutPiece(piece, size)
			if head != "" {
				out = append(out, head)
			}
		}
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// cutPiece splits s after at most size runes, at the last separator inside
// that window when there is one.
func cutPiece(s string, size int) (string, string) {
	end := 0
	for i := 0; i < size && end < len(s); i++ {
		_, n := utf8.DecodeRuneInString(s[end:])
		end += n
	}
	window := s[:end]
	for _, sep := range separators[:len(separators)-1] {
		i := strings.LastIndex(window, sep)
		if i <= 0 {
			continue
		}
		head := strings.TrimRight(window[:i], " \n")
		if head == "" {
			continue
		}
		return head, strings.TrimLeft(s[i+len(sep):], " \n")
	}
	return window, s[end:]
}

// startIndexes locates each piece inside text and returns rune offsets.
// The search for piece i starts where piece i-1 ended minus the overlap, so
// repeated text does not send every piece to its first occurrence.
func startIndexes(text string, pieces []string, overlap int) []int {
	offsets := make([]int, len(pieces))
	byteStart, prevStart, prevLen := 0, 0, 0
	for i, piece := range pieces {
		if i > 0 {
			byteStart = prevStart + prevLen - overlapBytes(pieces[i-1], overlap)
			if byteStart < 0 {
				byteStart = 0
			}
		}
		idx := strings.Index(text[byteStart:], piece)
		if idx < 0 {
			// fall back to a search from the top
			byteStart = 0
			idx = strings.Index(text, piece)
		}
		if idx < 0 {
			offsets[i] = -1
			continue
		}
		prevStart = byteStart + idx
		prevLen = len(piece)
		offsets[i] = utf8.RuneCountInString(text[:prevStart])
	}
	return offsets
}

// overlapBytes is the byte length of the last n runes of s.
func overlapBytes(s string, n int) int {
	if n <= 0 {
		return 0
	}
	b := len(s)
	for ; n > 0 && b > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:b])
		b -= size
	}
	return len(s) - b
}
