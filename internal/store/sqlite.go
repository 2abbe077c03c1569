package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS csv_uploads (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	filename    TEXT NOT NULL,
	upload_date DATETIME NOT NULL DEFAULT (datetime('now')),
	row_count   INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'uploaded'
);

CREATE TABLE IF NOT EXISTS leads (
	upload_id            TEXT NOT NULL REFERENCES csv_uploads(id) ON DELETE CASCADE,
	row_index            INTEGER NOT NULL,
	data                 TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending',
	personalized_message TEXT,
	error                TEXT,
	language             TEXT,
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (upload_id, row_index)
);

CREATE TABLE IF NOT EXISTS personalization_configs (
	upload_id       TEXT PRIMARY KEY REFERENCES csv_uploads(id) ON DELETE CASCADE,
	product_service TEXT NOT NULL,
	tonality        TEXT NOT NULL,
	language        TEXT,
	config          TEXT NOT NULL,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_csv_uploads_owner ON csv_uploads(owner);
CREATE INDEX IF NOT EXISTS idx_csv_uploads_status ON csv_uploads(status);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(upload_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, owner, filename string, rowCount int) (string, error) {
	if owner == "" {
		return "", ErrUnauthenticated
	}
	id := uuid.New().String()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO csv_uploads (id, owner, filename, upload_date, row_count, status) VALUES (?, ?, ?, ?, ?, ?)`,
		id, owner, filename, time.Now().UTC(), rowCount, string(model.UploadStatusUploaded),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert batch")
	}
	return id, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.CsvUpload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, filename, upload_date, row_count, status FROM csv_uploads WHERE id = ?`,
		batchID,
	)
	var u model.CsvUpload
	err := row.Scan(&u.ID, &u.Owner, &u.Filename, &u.UploadDate, &u.RowCount, &u.Status)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "batch %s", batchID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get batch")
	}
	return &u, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.CsvUpload, error) {
	query := `SELECT id, owner, filename, upload_date, row_count, status FROM csv_uploads WHERE 1=1`
	var args []any

	if filter.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, filter.Owner)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY upload_date DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CsvUpload
	for rows.Next() {
		var u model.CsvUpload
		if err := rows.Scan(&u.ID, &u.Owner, &u.Filename, &u.UploadDate, &u.RowCount, &u.Status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) UpdateBatchStatus(ctx context.Context, batchID string, status model.UploadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE csv_uploads SET status = ? WHERE id = ?`,
		string(status), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update batch status %s", batchID)
	}
	return checkRowsAffected(res, "batch", batchID)
}

func (s *SQLiteStore) SaveItems(ctx context.Context, batchID string, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save items")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (upload_id, row_index, data, status, updated_at) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert lead")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i, lead := range leads {
		data, err := json.Marshal(lead)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal lead %d", i)
		}
		if _, err := stmt.ExecContext(ctx, batchID, i, string(data), string(model.StatusPending), now); err != nil {
			return eris.Wrapf(err, "sqlite: insert lead %d", i)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save items")
}

func (s *SQLiteStore) ListItems(ctx context.Context, batchID string) ([]model.LeadItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT upload_id, row_index, data, status, personalized_message, error, language, updated_at
		 FROM leads WHERE upload_id = ? ORDER BY row_index`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LeadItem
	for rows.Next() {
		var it model.LeadItem
		var data string
		var msg, errText, lang sql.NullString
		if err := rows.Scan(&it.UploadID, &it.RowIndex, &data, &it.Status, &msg, &errText, &lang, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		if err := json.Unmarshal([]byte(data), &it.Data); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal lead %d", it.RowIndex)
		}
		it.PersonalizedMessage = msg.String
		it.Error = errText.String
		it.Language = lang.String
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) UpdateItemResult(ctx context.Context, batchID string, rowIndex int, update model.ItemUpdate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (upload_id, row_index, data, status, personalized_message, error, language, updated_at)
		 VALUES (?, ?, '{}', ?, ?, ?, ?, ?)
		 ON CONFLICT (upload_id, row_index) DO UPDATE SET
			status = excluded.status,
			personalized_message = excluded.personalized_message,
			error = excluded.error,
			language = excluded.language,
			updated_at = excluded.updated_at`,
		batchID, rowIndex, string(update.Status),
		nullString(update.Message), nullString(update.Error), nullString(update.Language),
		time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: update item %s/%d", batchID, rowIndex)
}

func (s *SQLiteStore) SaveConfig(ctx context.Context, batchID string, cfg model.PersonalizationConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal config")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personalization_configs (upload_id, product_service, tonality, language, config, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (upload_id) DO UPDATE SET
			product_service = excluded.product_service,
			tonality = excluded.tonality,
			language = excluded.language,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		batchID, cfg.ProductService, string(cfg.Tonality), nullString(cfg.Language), string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save config %s", batchID)
}

func (s *SQLiteStore) GetConfig(ctx context.Context, batchID string) (*model.PersonalizationConfig, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM personalization_configs WHERE upload_id = ?`, batchID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "config %s", batchID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get config")
	}
	var cfg model.PersonalizationConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal config")
	}
	return &cfg, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
