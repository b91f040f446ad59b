package cache

import (
	"time"

	"github.com/meshforge/modelcache/pkg/cache/similarity"
)

// TaskKind identifies the generation input modality
type TaskKind string

const (
	TaskText  TaskKind = "TEXT"
	TaskImage TaskKind = "IMAGE"
)

// Valid reports whether the kind is one of the known modalities
func (k TaskKind) Valid() bool {
	return k == TaskText || k == TaskImage
}

// Complexity is the requested generation fidelity tier
type Complexity string

const (
	ComplexityLow    Complexity = "LOW"
	ComplexityMedium Complexity = "MEDIUM"
	ComplexityHigh   Complexity = "HIGH"
)

// OutputFormat is the primary artifact format the client asked for
type OutputFormat string

const (
	FormatOBJ  OutputFormat = "OBJ"
	FormatGLTF OutputFormat = "GLTF"
	FormatSTL  OutputFormat = "STL"
)

// InputDescriptor captures everything about a generation request that affects
// the produced model. Two requests with equal descriptors are interchangeable.
type InputDescriptor struct {
	Text       string       `json:"text" db:"input_text"`
	Kind       TaskKind     `json:"kind" db:"task_kind"`
	Complexity Complexity   `json:"complexity" db:"complexity"`
	Format     OutputFormat `json:"format" db:"output_format"`
	ClientID   string       `json:"client_id,omitempty" db:"client_id"`
}

// ArtifactRefs holds the on-disk locations of the generated model files.
// Primary is whichever of the format paths the request asked for.
type ArtifactRefs struct {
	OBJPath     string `json:"obj_path,omitempty" db:"obj_path"`
	GLTFPath    string `json:"gltf_path,omitempty" db:"gltf_path"`
	STLPath     string `json:"stl_path,omitempty" db:"stl_path"`
	PreviewPath string `json:"preview_path,omitempty" db:"preview_path"`
}

// Primary returns the artifact path for the given format, empty when the
// format was never produced.
func (a ArtifactRefs) Primary(format OutputFormat) string {
	switch format {
	case FormatOBJ:
		return a.OBJPath
	case FormatGLTF:
		return a.GLTFPath
	case FormatSTL:
		return a.STLPath
	default:
		return ""
	}
}

// All returns every non-empty artifact path, preview included
func (a ArtifactRefs) All() []string {
	paths := make([]string, 0, 4)
	for _, p := range []string{a.OBJPath, a.GLTFPath, a.STLPath, a.PreviewPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Entry is a completed generation result tracked by the cache. Counter fields
// are only ever increased through the store so concurrent readers observe
// monotonic values.
type Entry struct {
	ID            string          `json:"id" db:"id"`
	InputHash     string          `json:"input_hash" db:"input_hash"`
	Input         InputDescriptor `json:"input"`
	Artifacts     ArtifactRefs    `json:"artifacts"`
	FileSignature string          `json:"file_signature,omitempty" db:"file_signature"`
	SizeBytes     int64           `json:"size_bytes" db:"size_bytes"`

	AccessCount          int64 `json:"access_count" db:"access_count"`
	CacheHitCount        int64 `json:"cache_hit_count" db:"cache_hit_count"`
	SimilarityUsageCount int64 `json:"similarity_usage_count" db:"similarity_usage_count"`
	ReferenceCount       int64 `json:"reference_count" db:"reference_count"`

	Cached         bool      `json:"cached" db:"cached"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at" db:"last_accessed_at"`
}

// MatchResult is what a lookup returns: the entry that matched, how it
// matched and the similarity score that justified it.
type MatchResult struct {
	Entry     *Entry               `json:"entry"`
	MatchType similarity.MatchType `json:"match_type"`
	Score     float64              `json:"score"`
}

// AccessKind distinguishes why an entry was touched; the counters it bumps
// differ per kind.
type AccessKind int

const (
	// AccessHit is an exact-match cache hit
	AccessHit AccessKind = iota
	// AccessSimilarity is a reuse through a similarity match
	AccessSimilarity
	// AccessTouch is a plain access with no hit semantics, e.g. warmup
	AccessTouch
)

// CandidateFilter narrows the similarity search space before any scoring
// happens. Zero values mean "any".
type CandidateFilter struct {
	Kind       TaskKind
	Complexity Complexity
	Format     OutputFormat
	Limit      int
}

// Aggregates are whole-cache totals used by eviction and health decisions.
// OldestCreatedAt is the creation time of the oldest cached entry, zero when
// the cache is empty.
type Aggregates struct {
	EntryCount      int64     `db:"entry_count"`
	TotalSizeBytes  int64     `db:"total_size_bytes"`
	TotalAccesses   int64     `db:"total_accesses"`
	TotalHits       int64     `db:"total_hits"`
	OldestCreatedAt time.Time `db:"oldest_created_at"`
}
