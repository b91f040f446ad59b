// Package similarity scores how alike two generation inputs are. Text inputs
// are scored by a weighted blend of token-level measures (Jaccard, cosine,
// length ratio, character n-grams) over normalized text plus an edit-distance
// score over the raw text. Image inputs reuse the text pipeline over the file
// name as a cheap proxy; perceptual hashing is an extension point, not
// implemented here.
package similarity

import (
	"math"
	"regexp"
	"strings"
)

const ngramSize = 2

var (
	// Keep letters, digits, CJK ideographs and whitespace; everything else
	// becomes a separator.
	normalizePattern  = regexp.MustCompile(`[^a-zA-Z0-9\x{4e00}-\x{9fa5}\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Engine computes similarity scores in [0,1]. Scores are symmetric and
// identical inputs always score 1.0. The zero value is not usable; construct
// with NewEngine so the configuration is validated.
type Engine struct {
	config Config
}

// NewEngine creates an engine, failing fast on invalid configuration
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config}, nil
}

// MustNewEngine is NewEngine for known-good configs; it panics on error
func MustNewEngine(config Config) *Engine {
	e, err := NewEngine(config)
	if err != nil {
		panic(err)
	}
	return e
}

// Config returns the engine's configuration
func (e *Engine) Config() Config { return e.config }

// Score computes the combined similarity of two text inputs
func (e *Engine) Score(a, b string) float64 {
	if a == b {
		return 1.0
	}

	semantic := e.Semantic(a, b)
	basic := e.Basic(a, b)

	return semantic*e.config.SemanticWeight + basic*e.config.BasicWeight
}

// Semantic computes the token-level similarity over normalized text
func (e *Engine) Semantic(a, b string) float64 {
	norm1 := Normalize(a)
	norm2 := Normalize(b)

	if norm1 == norm2 {
		return 1.0
	}

	jaccard := jaccardSimilarity(norm1, norm2)
	cosine := cosineSimilarity(norm1, norm2)
	length := lengthSimilarity(norm1, norm2)
	ngram := ngramSimilarity(norm1, norm2)

	return jaccard*e.config.JaccardWeight +
		cosine*e.config.CosineWeight +
		length*e.config.LengthWeight +
		ngram*e.config.NGramWeight
}

// Basic computes the edit-distance similarity over the raw, unnormalized text
func (e *Engine) Basic(a, b string) float64 {
	if a == b {
		return 1.0
	}

	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}

	return 1.0 - float64(editDistance(ra, rb))/float64(maxLen)
}

// ImageScore scores two image references by their file-name tokens. This is
// deliberately a proxy-quality signal; see the package comment.
func (e *Engine) ImageScore(pathA, pathB string) float64 {
	if pathA == "" || pathB == "" {
		if pathA == pathB {
			return 1.0
		}
		return 0.0
	}
	if pathA == pathB {
		return 1.0
	}
	return e.Score(fileName(pathA), fileName(pathB))
}

// Classify maps a score to a match type according to the configured thresholds
func (e *Engine) Classify(score float64) MatchType {
	switch {
	case score >= e.config.ExactThreshold:
		return MatchExact
	case score >= e.config.HighThreshold:
		return MatchSemantic
	case score >= e.config.MediumThreshold:
		return MatchBasic
	case score >= e.config.LowThreshold:
		return MatchWeak
	default:
		return MatchNone
	}
}

// Normalize lowercases, strips punctuation outside letters/digits/CJK and
// collapses whitespace runs to single spaces.
func Normalize(text string) string {
	normalized := strings.ToLower(text)
	normalized = normalizePattern.ReplaceAllString(normalized, " ")
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// fileName extracts the base name without extension so directory layout and
// format do not affect the score.
func fileName(path string) string {
	base := path
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base
}

func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	union := len(setA)
	intersection := 0
	for tok := range setB {
		if _, ok := setA[tok]; ok {
			intersection++
		} else {
			union++
		}
	}

	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func cosineSimilarity(a, b string) float64 {
	freqA := wordFrequency(a)
	freqB := wordFrequency(b)

	if len(freqA) == 0 && len(freqB) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for word, countA := range freqA {
		dot += float64(countA * freqB[word])
		normA += float64(countA * countA)
	}
	for _, countB := range freqB {
		normB += float64(countB * countB)
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func lengthSimilarity(a, b string) float64 {
	lenA := len([]rune(a))
	lenB := len([]rune(b))

	if lenA == 0 && lenB == 0 {
		return 1.0
	}

	minLen, maxLen := lenA, lenB
	if minLen > maxLen {
		minLen, maxLen = maxLen, minLen
	}
	return float64(minLen) / float64(maxLen)
}

func ngramSimilarity(a, b string) float64 {
	gramsA := ngrams(a, ngramSize)
	gramsB := ngrams(b, ngramSize)

	if len(gramsA) == 0 && len(gramsB) == 0 {
		return 1.0
	}

	union := len(gramsA)
	intersection := 0
	for g := range gramsB {
		if _, ok := gramsA[g]; ok {
			intersection++
		} else {
			union++
		}
	}

	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(text) {
		set[tok] = struct{}{}
	}
	return set
}

func wordFrequency(text string) map[string]int {
	freq := make(map[string]int)
	for _, tok := range strings.Fields(text) {
		freq[tok]++
	}
	return freq
}

// ngrams returns the set of n-length character grams. Strings shorter than n
// contribute themselves as a single gram.
func ngrams(text string, n int) map[string]struct{} {
	grams := make(map[string]struct{})
	runes := []rune(text)

	if len(runes) < n {
		grams[text] = struct{}{}
		return grams
	}

	for i := 0; i+n <= len(runes); i++ {
		grams[string(runes[i:i+n])] = struct{}{}
	}
	return grams
}

// editDistance computes the Levenshtein distance between two rune slices
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = 1 + min3(prev[j], curr[j-1], prev[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
