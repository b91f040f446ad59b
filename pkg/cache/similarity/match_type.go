package similarity

// MatchType classifies how closely a candidate matched the lookup input.
// It is a closed enumeration; only exact, semantic and basic matches are
// strong enough to serve from cache.
type MatchType string

const (
	MatchExact    MatchType = "EXACT"
	MatchSemantic MatchType = "SEMANTIC"
	MatchBasic    MatchType = "BASIC"
	MatchWeak     MatchType = "WEAK"
	MatchNone     MatchType = "NONE"
)

// Usable reports whether a result of this match type may be served
func (t MatchType) Usable() bool {
	return t == MatchExact || t == MatchSemantic || t == MatchBasic
}

// Exact reports whether this is a hash-identical match
func (t MatchType) Exact() bool {
	return t == MatchExact
}
