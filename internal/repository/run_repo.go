package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// RunRepo stores verdict records in the moderation_runs table.
type RunRepo struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `book_id, model, run_id::text, seq, rating, passed,
	title, description, cover_image, chapters, fingerprints, created_at`

// Get returns the record for (bookID, modelName).
func (r *RunRepo) Get(ctx context.Context, bookID, modelName string) (*model.VerdictRecord, error) {
	query := `SELECT ` + runColumns + `
		FROM moderation_runs
		WHERE book_id = $1 AND model = $2`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, bookID, modelName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrRunNotFound
	}
	return rec, err
}

// Upsert writes rec. Slots rec leaves null keep their stored value, and the
// row is only touched when rec started after the stored run; otherwise
// model.ErrStaleRun is returned.
func (r *RunRepo) Upsert(ctx context.Context, rec *model.VerdictRecord) error {
	query := `
		INSERT INTO moderation_runs (book_id, model, run_id, seq, rating, passed,
			title, description, cover_image, chapters, fingerprints, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (book_id, model) DO UPDATE SET
			run_id       = EXCLUDED.run_id,
			seq          = EXCLUDED.seq,
			rating       = EXCLUDED.rating,
			passed       = EXCLUDED.passed,
			title        = COALESCE(EXCLUDED.title, moderation_runs.title),
			description  = COALESCE(EXCLUDED.description, moderation_runs.description),
			cover_image  = COALESCE(EXCLUDED.cover_image, moderation_runs.cover_image),
			chapters     = COALESCE(EXCLUDED.chapters, moderation_runs.chapters),
			fingerprints = COALESCE(EXCLUDED.fingerprints, moderation_runs.fingerprints),
			created_at   = EXCLUDED.created_at,
			updated_at   = NOW()
		WHERE moderation_runs.seq < EXCLUDED.seq`

	tag, err := r.pool.Exec(ctx, query,
		rec.BookID, rec.Model, rec.RunID, rec.Seq, int16(rec.Rating), rec.Passed,
		jsonParam(rec.Title), jsonParam(rec.Description), jsonParam(rec.CoverImage),
		jsonParam(rec.Chapters), jsonParam(rec.Fingerprints), rec.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrStaleRun
	}
	return nil
}

// List returns every record for a book, ordered by model.
func (r *RunRepo) List(ctx context.Context, bookID string) ([]*model.VerdictRecord, error) {
	query := `SELECT ` + runColumns + `
		FROM moderation_runs
		WHERE book_id = $1
		ORDER BY model`

	rows, err := r.pool.Query(ctx, query, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*model.VerdictRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByVerdict returns how many recorded runs passed and failed per model.
func (r *RunRepo) CountByVerdict(ctx context.Context) (map[string][2]int64, error) {
	query := `
		SELECT model,
		       COUNT(*) FILTER (WHERE passed),
		       COUNT(*) FILTER (WHERE NOT passed)
		FROM moderation_runs
		GROUP BY model`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][2]int64)
	for rows.Next() {
		var (
			name           string
			passed, failed int64
		)
		if err := rows.Scan(&name, &passed, &failed); err != nil {
			return nil, err
		}
		out[name] = [2]int64{passed, failed}
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*model.VerdictRecord, error) {
	var (
		rec    model.VerdictRecord
		rating int16
	)
	err := row.Scan(
		&rec.BookID, &rec.Model, &rec.RunID, &rec.Seq, &rating, &rec.Passed,
		&rec.Title, &rec.Description, &rec.CoverImage, &rec.Chapters, &rec.Fingerprints,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Rating = model.AgeRating(rating)
	return &rec, nil
}

// jsonParam passes a serialized slot to a jsonb column, keeping nil as NULL.
func jsonParam(s *string) any {
	if s == nil {
		return nil
	}
	return []byte(*s)
}
