package similarity

import "fmt"

const weightEpsilon = 1e-9

// Config holds the scoring weights and classification thresholds.
// Weights for the semantic sub-scores must sum to 1, as must the
// semantic/basic split; thresholds must be monotonically ordered.
// Validate enforces both at startup rather than at call time.
type Config struct {
	// Split between the token-level semantic score and the edit-distance
	// basic score
	SemanticWeight float64 `json:"semantic_weight" mapstructure:"semantic_weight"`
	BasicWeight    float64 `json:"basic_weight" mapstructure:"basic_weight"`

	// Weights of the four semantic sub-scores
	JaccardWeight float64 `json:"jaccard_weight" mapstructure:"jaccard_weight"`
	CosineWeight  float64 `json:"cosine_weight" mapstructure:"cosine_weight"`
	LengthWeight  float64 `json:"length_weight" mapstructure:"length_weight"`
	NGramWeight   float64 `json:"ngram_weight" mapstructure:"ngram_weight"`

	// Classification thresholds, ordered exact >= high >= medium >= low
	ExactThreshold  float64 `json:"exact_threshold" mapstructure:"exact_threshold"`
	HighThreshold   float64 `json:"high_threshold" mapstructure:"high_threshold"`
	MediumThreshold float64 `json:"medium_threshold" mapstructure:"medium_threshold"`
	LowThreshold    float64 `json:"low_threshold" mapstructure:"low_threshold"`
}

// DefaultConfig returns the default scoring configuration
func DefaultConfig() Config {
	return Config{
		SemanticWeight:  0.7,
		BasicWeight:     0.3,
		JaccardWeight:   0.4,
		CosineWeight:    0.3,
		LengthWeight:    0.2,
		NGramWeight:     0.1,
		ExactThreshold:  1.0,
		HighThreshold:   0.8,
		MediumThreshold: 0.6,
		LowThreshold:    0.4,
	}
}

// Validate checks weight sums and threshold ordering
func (c Config) Validate() error {
	if sum := c.SemanticWeight + c.BasicWeight; !sumsToOne(sum) {
		return fmt.Errorf("semantic and basic weights must sum to 1, got %v", sum)
	}
	if sum := c.JaccardWeight + c.CosineWeight + c.LengthWeight + c.NGramWeight; !sumsToOne(sum) {
		return fmt.Errorf("semantic sub-score weights must sum to 1, got %v", sum)
	}
	for name, w := range map[string]float64{
		"semantic": c.SemanticWeight,
		"basic":    c.BasicWeight,
		"jaccard":  c.JaccardWeight,
		"cosine":   c.CosineWeight,
		"length":   c.LengthWeight,
		"ngram":    c.NGramWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s weight must be in [0,1], got %v", name, w)
		}
	}
	if c.ExactThreshold < c.HighThreshold ||
		c.HighThreshold < c.MediumThreshold ||
		c.MediumThreshold < c.LowThreshold {
		return fmt.Errorf("thresholds must be ordered exact >= high >= medium >= low, got %v/%v/%v/%v",
			c.ExactThreshold, c.HighThreshold, c.MediumThreshold, c.LowThreshold)
	}
	if c.LowThreshold < 0 || c.ExactThreshold > 1 {
		return fmt.Errorf("thresholds must be in [0,1]")
	}
	return nil
}

func sumsToOne(sum float64) bool {
	diff := sum - 1.0
	return diff < weightEpsilon && diff > -weightEpsilon
}
