package cache

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// SQLStore persists entries in Postgres through sqlx
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open connection pool
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// entryRow is the flat row shape; sqlx maps columns onto it and the
// to/from helpers convert to the nested domain type.
type entryRow struct {
	ID            string `db:"id"`
	InputHash     string `db:"input_hash"`
	InputText     string `db:"input_text"`
	TaskKind      string `db:"task_kind"`
	Complexity    string `db:"complexity"`
	OutputFormat  string `db:"output_format"`
	ClientID      string `db:"client_id"`
	OBJPath       string `db:"obj_path"`
	GLTFPath      string `db:"gltf_path"`
	STLPath       string `db:"stl_path"`
	PreviewPath   string `db:"preview_path"`
	FileSignature string `db:"file_signature"`
	SizeBytes     int64  `db:"size_bytes"`

	AccessCount          int64 `db:"access_count"`
	CacheHitCount        int64 `db:"cache_hit_count"`
	SimilarityUsageCount int64 `db:"similarity_usage_count"`
	ReferenceCount       int64 `db:"reference_count"`

	Cached         bool      `db:"cached"`
	CreatedAt      time.Time `db:"created_at"`
	LastAccessedAt time.Time `db:"last_accessed_at"`
}

func rowFromEntry(e *Entry) entryRow {
	return entryRow{
		ID:                   e.ID,
		InputHash:            e.InputHash,
		InputText:            e.Input.Text,
		TaskKind:             string(e.Input.Kind),
		Complexity:           string(e.Input.Complexity),
		OutputFormat:         string(e.Input.Format),
		ClientID:             e.Input.ClientID,
		OBJPath:              e.Artifacts.OBJPath,
		GLTFPath:             e.Artifacts.GLTFPath,
		STLPath:              e.Artifacts.STLPath,
		PreviewPath:          e.Artifacts.PreviewPath,
		FileSignature:        e.FileSignature,
		SizeBytes:            e.SizeBytes,
		AccessCount:          e.AccessCount,
		CacheHitCount:        e.CacheHitCount,
		SimilarityUsageCount: e.SimilarityUsageCount,
		ReferenceCount:       e.ReferenceCount,
		Cached:               e.Cached,
		CreatedAt:            e.CreatedAt,
		LastAccessedAt:       e.LastAccessedAt,
	}
}

func (r entryRow) toEntry() *Entry {
	return &Entry{
		ID:        r.ID,
		InputHash: r.InputHash,
		Input: InputDescriptor{
			Text:       r.InputText,
			Kind:       TaskKind(r.TaskKind),
			Complexity: Complexity(r.Complexity),
			Format:     OutputFormat(r.OutputFormat),
			ClientID:   r.ClientID,
		},
		Artifacts: ArtifactRefs{
			OBJPath:     r.OBJPath,
			GLTFPath:    r.GLTFPath,
			STLPath:     r.STLPath,
			PreviewPath: r.PreviewPath,
		},
		FileSignature:        r.FileSignature,
		SizeBytes:            r.SizeBytes,
		AccessCount:          r.AccessCount,
		CacheHitCount:        r.CacheHitCount,
		SimilarityUsageCount: r.SimilarityUsageCount,
		ReferenceCount:       r.ReferenceCount,
		Cached:               r.Cached,
		CreatedAt:            r.CreatedAt,
		LastAccessedAt:       r.LastAccessedAt,
	}
}

const entryColumns = `id, input_hash, input_text, task_kind, complexity, output_format, client_id,
	obj_path, gltf_path, stl_path, preview_path, file_signature, size_bytes,
	access_count, cache_hit_count, similarity_usage_count, reference_count,
	cached, created_at, last_accessed_at`

func (s *SQLStore) GetByHash(ctx context.Context, inputHash string) (*Entry, error) {
	var row entryRow
	query := `SELECT ` + entryColumns + ` FROM cache_entries WHERE input_hash = $1 AND cached = true`
	if err := s.db.GetContext(ctx, &row, query, inputHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get entry by hash")
	}
	return row.toEntry(), nil
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*Entry, error) {
	var row entryRow
	query := `SELECT ` + entryColumns + ` FROM cache_entries WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get entry by id")
	}
	return row.toEntry(), nil
}

func (s *SQLStore) Candidates(ctx context.Context, filter CandidateFilter) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM cache_entries WHERE cached = true`
	args := make([]interface{}, 0, 4)

	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND task_kind = $` + strconv.Itoa(len(args))
	}
	if filter.Complexity != "" {
		args = append(args, string(filter.Complexity))
		query += ` AND complexity = $` + strconv.Itoa(len(args))
	}
	if filter.Format != "" {
		args = append(args, string(filter.Format))
		query += ` AND output_format = $` + strconv.Itoa(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultCandidateLimit
	}
	args = append(args, limit)
	query += ` ORDER BY last_accessed_at DESC LIMIT $` + strconv.Itoa(len(args))

	return s.selectEntries(ctx, query, args...)
}

func (s *SQLStore) Insert(ctx context.Context, entry *Entry) error {
	row := rowFromEntry(entry)
	query := `INSERT INTO cache_entries (` + entryColumns + `) VALUES (
		:id, :input_hash, :input_text, :task_kind, :complexity, :output_format, :client_id,
		:obj_path, :gltf_path, :stl_path, :preview_path, :file_signature, :size_bytes,
		:access_count, :cache_hit_count, :similarity_usage_count, :reference_count,
		:cached, :created_at, :last_accessed_at)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.Wrap(err, "insert entry")
	}
	return nil
}

func (s *SQLStore) ApplyAccess(ctx context.Context, deltas []AccessDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin access batch")
	}
	defer tx.Rollback()

	query := `UPDATE cache_entries SET
		access_count = access_count + $2,
		cache_hit_count = cache_hit_count + $3,
		similarity_usage_count = similarity_usage_count + $4,
		last_accessed_at = GREATEST(last_accessed_at, $5)
		WHERE id = $1`
	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, query, d.EntryID, d.Accesses, d.Hits, d.SimilarityUses, d.LastAccessedAt); err != nil {
			return errors.Wrapf(err, "apply access delta for %s", d.EntryID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit access batch")
}

func (s *SQLStore) SetCached(ctx context.Context, id string, cached bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cache_entries SET cached = $2 WHERE id = $1`, id, cached)
	return errors.Wrap(err, "set cached flag")
}

func (s *SQLStore) Aggregates(ctx context.Context) (Aggregates, error) {
	var row struct {
		EntryCount      int64        `db:"entry_count"`
		TotalSizeBytes  int64        `db:"total_size_bytes"`
		TotalAccesses   int64        `db:"total_accesses"`
		TotalHits       int64        `db:"total_hits"`
		OldestCreatedAt sql.NullTime `db:"oldest_created_at"`
	}
	query := `SELECT COUNT(*) AS entry_count,
		COALESCE(SUM(size_bytes), 0) AS total_size_bytes,
		COALESCE(SUM(access_count), 0) AS total_accesses,
		COALESCE(SUM(cache_hit_count), 0) AS total_hits,
		MIN(created_at) AS oldest_created_at
		FROM cache_entries WHERE cached = true`
	if err := s.db.GetContext(ctx, &row, query); err != nil {
		return Aggregates{}, errors.Wrap(err, "load aggregates")
	}
	agg := Aggregates{
		EntryCount:     row.EntryCount,
		TotalSizeBytes: row.TotalSizeBytes,
		TotalAccesses:  row.TotalAccesses,
		TotalHits:      row.TotalHits,
	}
	if row.OldestCreatedAt.Valid {
		agg.OldestCreatedAt = row.OldestCreatedAt.Time
	}
	return agg, nil
}

func (s *SQLStore) EvictionCandidates(ctx context.Context, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM cache_entries
		WHERE cached = true AND reference_count = 0
		ORDER BY last_accessed_at ASC, access_count ASC
		LIMIT $1`
	return s.selectEntries(ctx, query, limit)
}

func (s *SQLStore) TopByHits(ctx context.Context, since time.Time, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM cache_entries
		WHERE cached = true AND last_accessed_at >= $1 AND cache_hit_count > 0
		ORDER BY cache_hit_count DESC
		LIMIT $2`
	return s.selectEntries(ctx, query, since, limit)
}

func (s *SQLStore) MostAccessedAtHour(ctx context.Context, hour int, since time.Time, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM cache_entries
		WHERE cached = true AND created_at >= $2
		AND EXTRACT(HOUR FROM created_at)::int = $1
		ORDER BY access_count DESC
		LIMIT $3`
	return s.selectEntries(ctx, query, hour, since, limit)
}

func (s *SQLStore) ActiveClients(ctx context.Context, since time.Time, limit int) ([]ClientActivity, error) {
	var rows []ClientActivity
	query := `SELECT client_id, COUNT(*) AS requests
		FROM cache_entries
		WHERE created_at >= $1 AND client_id <> ''
		GROUP BY client_id ORDER BY requests DESC
		LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, query, since, limit); err != nil {
		return nil, errors.Wrap(err, "active clients")
	}
	return rows, nil
}

func (s *SQLStore) RecentByClient(ctx context.Context, clientID string, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM cache_entries
		WHERE cached = true AND client_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return s.selectEntries(ctx, query, clientID, limit)
}

func (s *SQLStore) RecentEntries(ctx context.Context, since time.Time, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM cache_entries
		WHERE cached = true AND created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`
	return s.selectEntries(ctx, query, since, limit)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "ping store")
}

func (s *SQLStore) selectEntries(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "select entries")
	}
	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toEntry())
	}
	return entries, nil
}
