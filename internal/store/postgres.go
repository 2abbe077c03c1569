package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. The
// per-row result upsert runs once or twice for every lead in a run.
var preparedStatements = map[string]string{
	"insert_batch":        `INSERT INTO csv_uploads (id, owner, filename, upload_date, row_count, status) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_batch":           `SELECT id, owner, filename, upload_date, row_count, status FROM csv_uploads WHERE id = $1`,
	"update_batch_status": `UPDATE csv_uploads SET status = $1 WHERE id = $2`,
	"upsert_item_result":  upsertItemResultSQL,
	"list_items":          listItemsSQL,
}

const upsertItemResultSQL = `INSERT INTO leads (upload_id, row_index, data, status, personalized_message, error, language, updated_at)
	VALUES ($1, $2, '{}'::jsonb, $3, $4, $5, $6, $7)
	ON CONFLICT (upload_id, row_index) DO UPDATE SET
		status = EXCLUDED.status,
		personalized_message = EXCLUDED.personalized_message,
		error = EXCLUDED.error,
		language = EXCLUDED.language,
		updated_at = EXCLUDED.updated_at`

const listItemsSQL = `SELECT upload_id, row_index, data, status, personalized_message, error, language, updated_at
	FROM leads WHERE upload_id = $1 ORDER BY row_index`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS csv_uploads (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner       TEXT NOT NULL,
	filename    TEXT NOT NULL,
	upload_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	row_count   INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'uploaded'
);

CREATE TABLE IF NOT EXISTS leads (
	upload_id            TEXT NOT NULL REFERENCES csv_uploads(id) ON DELETE CASCADE,
	row_index            INTEGER NOT NULL,
	data                 JSONB NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending',
	personalized_message TEXT,
	error                TEXT,
	language             TEXT,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (upload_id, row_index)
);

CREATE TABLE IF NOT EXISTS personalization_configs (
	upload_id       TEXT PRIMARY KEY REFERENCES csv_uploads(id) ON DELETE CASCADE,
	product_service TEXT NOT NULL,
	tonality        TEXT NOT NULL,
	language        TEXT,
	config          JSONB NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_csv_uploads_owner ON csv_uploads(owner);
CREATE INDEX IF NOT EXISTS idx_csv_uploads_status ON csv_uploads(status);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(upload_id, status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateBatch(ctx context.Context, owner, filename string, rowCount int) (string, error) {
	if owner == "" {
		return "", ErrUnauthenticated
	}
	id := uuid.New().String()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO csv_uploads (id, owner, filename, upload_date, row_count, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, owner, filename, time.Now().UTC(), rowCount, string(model.UploadStatusUploaded),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert batch")
	}
	return id, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.CsvUpload, error) {
	var u model.CsvUpload
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, filename, upload_date, row_count, status FROM csv_uploads WHERE id = $1`,
		batchID,
	).Scan(&u.ID, &u.Owner, &u.Filename, &u.UploadDate, &u.RowCount, &u.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "batch %s", batchID)
		}
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}
	return &u, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.CsvUpload, error) {
	query := `SELECT id, owner, filename, upload_date, row_count, status FROM csv_uploads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Owner != "" {
		query += fmt.Sprintf(` AND owner = $%d`, argIdx)
		args = append(args, filter.Owner)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY upload_date DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []model.CsvUpload
	for rows.Next() {
		var u model.CsvUpload
		if err := rows.Scan(&u.ID, &u.Owner, &u.Filename, &u.UploadDate, &u.RowCount, &u.Status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, batchID string, status model.UploadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE csv_uploads SET status = $1 WHERE id = $2`,
		string(status), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update batch status %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "batch %s", batchID)
	}
	return nil
}

var leadColumns = []string{"upload_id", "row_index", "data", "status", "updated_at"}

// SaveItems bulk-loads the rows of a batch with COPY.
func (s *PostgresStore) SaveItems(ctx context.Context, batchID string, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(leads))
	for i, lead := range leads {
		data, err := json.Marshal(lead)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal lead %d", i)
		}
		rows[i] = []any{batchID, i, data, string(model.StatusPending), now}
	}

	if _, err := db.CopyFrom(ctx, s.pool, "leads", leadColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: save items %s", batchID)
	}
	return nil
}

func (s *PostgresStore) ListItems(ctx context.Context, batchID string) ([]model.LeadItem, error) {
	rows, err := s.pool.Query(ctx, listItemsSQL, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var out []model.LeadItem
	for rows.Next() {
		var it model.LeadItem
		var data []byte
		var msg, errText, lang *string
		if err := rows.Scan(&it.UploadID, &it.RowIndex, &data, &it.Status, &msg, &errText, &lang, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		if err := json.Unmarshal(data, &it.Data); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal lead %d", it.RowIndex)
		}
		it.PersonalizedMessage = deref(msg)
		it.Error = deref(errText)
		it.Language = deref(lang)
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) UpdateItemResult(ctx context.Context, batchID string, rowIndex int, update model.ItemUpdate) error {
	_, err := s.pool.Exec(ctx, upsertItemResultSQL,
		batchID, rowIndex, string(update.Status),
		nullable(update.Message), nullable(update.Error), nullable(update.Language),
		time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: update item %s/%d", batchID, rowIndex)
}

func (s *PostgresStore) SaveConfig(ctx context.Context, batchID string, cfg model.PersonalizationConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal config")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO personalization_configs (upload_id, product_service, tonality, language, config, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (upload_id) DO UPDATE SET
			product_service = EXCLUDED.product_service,
			tonality = EXCLUDED.tonality,
			language = EXCLUDED.language,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at`,
		batchID, cfg.ProductService, string(cfg.Tonality), nullable(cfg.Language), data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save config %s", batchID)
}

func (s *PostgresStore) GetConfig(ctx context.Context, batchID string) (*model.PersonalizationConfig, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT config FROM personalization_configs WHERE upload_id = $1`, batchID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "config %s", batchID)
		}
		return nil, eris.Wrap(err, "postgres: get config")
	}
	var cfg model.PersonalizationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal config")
	}
	return &cfg, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
