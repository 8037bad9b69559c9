// Package chunker splits free text into overlapping chunks sized for
// embedding. Splits prefer natural boundaries: blank lines (paragraphs),
// then line breaks, then spaces, and fall back to single characters only
// when a piece has no coarser boundary left. Adjacent small pieces are
// merged back up to the target size, and each chunk after the first starts
// with roughly the last 10% of the previous one.
//
// All lengths are measured in characters (Unicode code points).
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// DefaultChunkSize is the target chunk length used when callers pass none.
const DefaultChunkSize = 500

// overlapRatio is the share of the chunk size repeated between neighbours.
const overlapRatio = 0.10

// DefaultSeparators is the boundary hierarchy, coarsest first. The empty
// separator means "split between characters".
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter splits text recursively along a separator hierarchy.
// A Splitter is immutable after construction and safe for concurrent use.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithOverlap overrides the default overlap of 10% of the chunk size.
func WithOverlap(n int) Option {
	return func(s *Splitter) {
		s.overlap = n
	}
}

// WithSeparators overrides the boundary hierarchy. The list should end with
// "" so that oversized pieces can always be hard-split.
func WithSeparators(separators ...string) Option {
	return func(s *Splitter) {
		if len(separators) > 0 {
			s.separators = separators
		}
	}
}

// DefaultOverlap returns the overlap used for a given chunk size.
func DefaultOverlap(size int) int {
	return int(float64(size) * overlapRatio)
}

// New constructs a Splitter targeting size characters per chunk.
func New(size int, opts ...Option) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: %w: chunk size must be positive, got %d", rag.ErrInvalidArgument, size)
	}
	s := &Splitter{
		size:       size,
		overlap:    DefaultOverlap(size),
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap < 0 || s.overlap >= s.size {
		return nil, fmt.Errorf("chunker: %w: overlap %d must be in [0, %d)", rag.ErrInvalidArgument, s.overlap, s.size)
	}
	return s, nil
}

// Chunk splits text with the default separators and a 10% overlap.
// Empty text returns no chunks and no error.
func Chunk(text string, size int) ([]string, error) {
	s, err := New(size)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

// Size returns the target chunk length.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the number of characters carried between chunks.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text in order. Chunks are trimmed of
// surrounding whitespace, and pieces that trim to nothing are dropped, so
// whitespace-only input yields no chunks.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	return s.split(text, s.separators)
}

// split picks the coarsest separator present in text, splits on it, merges
// pieces shorter than the target and recurses into the rest with the
// remaining finer separators.
func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var finer []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			finer = separators[i+1:]
			break
		}
	}

	var chunks, pending []string
	for _, piece := range splitKeepSeparator(text, sep) {
		if runeLen(piece) < s.size {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending)...)
			pending = nil
		}
		if len(finer) == 0 {
			chunks = append(chunks, piece)
			continue
		}
		chunks = append(chunks, s.split(piece, finer)...)
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending)...)
	}
	return chunks
}

// merge packs consecutive pieces into chunks of at most s.size characters.
// When a chunk is emitted, pieces are dropped from its front until at most
// s.overlap characters remain; those carry over into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		lengths []int
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= lengths[0]
				current = current[1:]
				lengths = lengths[1:]
			}
		}
		current = append(current, piece)
		lengths = append(lengths, n)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepSeparator splits text on sep, keeping each separator attached to
// the start of the piece that follows it. The empty separator splits into
// single characters. Empty pieces are dropped.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
