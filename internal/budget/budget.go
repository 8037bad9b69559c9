// Package budget provides token estimation and request batching for the
// remote embedding backends. Because those backends use different
// tokenizers, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose and code).
package budget

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	// 4 chars/token is standard for English and code.
	charsPerToken = 4

	// DefaultMaxRequestTokens is the default per-request input budget for
	// embedding calls, below the 300k-token cap the OpenAI embeddings API
	// enforces per request.
	DefaultMaxRequestTokens = 250_000

	// DefaultMaxRequestItems is the default maximum number of inputs per
	// request (the OpenAI embeddings API accepts at most 2048).
	DefaultMaxRequestItems = 2048
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Span is a half-open range [Start, End) of input indexes sent in one request.
type Span struct {
	Start, End int
}

// Split partitions texts, in order, into consecutive spans that each stay
// within maxTokens estimated tokens and maxItems inputs. A single text larger
// than maxTokens gets a span of its own; the backend decides whether to
// accept it. Non-positive limits disable that limit.
func Split(texts []string, maxTokens, maxItems int) []Span {
	if len(texts) == 0 {
		return nil
	}

	var spans []Span
	start, tokens := 0, 0
	for i, t := range texts {
		n := Estimate(t)
		full := maxItems > 0 && i-start >= maxItems
		over := maxTokens > 0 && i > start && tokens+n > maxTokens
		if full || over {
			spans = append(spans, Span{Start: start, End: i})
			start, tokens = i, 0
		}
		tokens += n
	}
	return append(spans, Span{Start: start, End: len(texts)})
}
