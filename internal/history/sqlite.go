package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps history in the history table of the application database.
type SQLStore struct {
	db   *sql.DB
	opts options
}

// NewSQLStore uses an already opened database (see store.Open).
func NewSQLStore(db *sql.DB, opts ...Option) *SQLStore {
	return &SQLStore{db: db, opts: buildOptions(opts)}
}

const selectColumns = `id, url, title, format_id, output_path, status, file_size, duration, thumbnail, file_type, date_added, downloaded_at`

func (s *SQLStore) Add(item Item) (string, error) {
	item.ID = newID()
	item.DateAdded = s.opts.now()

	var downloadedAt sql.NullInt64
	if item.DownloadedAt != nil {
		downloadedAt = sql.NullInt64{Int64: item.DownloadedAt.UnixNano(), Valid: true}
	}
	var fileSize sql.NullInt64
	if item.FileSize != nil {
		fileSize = sql.NullInt64{Int64: *item.FileSize, Valid: true}
	}
	var duration sql.NullFloat64
	if item.Duration != nil {
		duration = sql.NullFloat64{Float64: *item.Duration, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO history (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.URL, item.Title, item.FormatID, item.OutputPath, string(item.Status),
		fileSize, duration, item.Thumbnail, item.FileType, item.DateAdded.UnixNano(), downloadedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert history item: %w", err)
	}
	return item.ID, nil
}

func (s *SQLStore) Get(id string) (Item, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM history WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("failed to read history item %s: %w", id, err)
	}
	return it, nil
}

func (s *SQLStore) GetAll() ([]Item, error) {
	return s.query(`SELECT ` + selectColumns + ` FROM history`)
}

func (s *SQLStore) GetByStatus(status Status) ([]Item, error) {
	return s.query(`SELECT `+selectColumns+` FROM history WHERE status = ?`, string(status))
}

func (s *SQLStore) GetRecent(limit int) ([]Item, error) {
	if limit <= 0 {
		return []Item{}, nil
	}
	return s.query(`SELECT `+selectColumns+` FROM history ORDER BY date_added DESC, rowid DESC LIMIT ?`, limit)
}

func (s *SQLStore) Update(id string, patch Patch) error {
	it, err := s.Get(id)
	if err != nil {
		return err
	}
	patch.apply(&it)

	var downloadedAt sql.NullInt64
	if it.DownloadedAt != nil {
		downloadedAt = sql.NullInt64{Int64: it.DownloadedAt.UnixNano(), Valid: true}
	}
	var fileSize sql.NullInt64
	if it.FileSize != nil {
		fileSize = sql.NullInt64{Int64: *it.FileSize, Valid: true}
	}
	var duration sql.NullFloat64
	if it.Duration != nil {
		duration = sql.NullFloat64{Float64: *it.Duration, Valid: true}
	}

	_, err = s.db.Exec(
		`UPDATE history SET title = ?, output_path = ?, status = ?, file_size = ?, duration = ?,
		 thumbnail = ?, file_type = ?, downloaded_at = ? WHERE id = ?`,
		it.Title, it.OutputPath, string(it.Status), fileSize, duration,
		it.Thumbnail, it.FileType, downloadedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update history item %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM history WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete history item %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (s *SQLStore) query(q string, args ...any) ([]Item, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (Item, error) {
	var (
		it           Item
		status       string
		fileSize     sql.NullInt64
		duration     sql.NullFloat64
		dateAdded    int64
		downloadedAt sql.NullInt64
	)
	err := sc.Scan(&it.ID, &it.URL, &it.Title, &it.FormatID, &it.OutputPath, &status,
		&fileSize, &duration, &it.Thumbnail, &it.FileType, &dateAdded, &downloadedAt)
	if err != nil {
		return Item{}, err
	}
	it.Status = Status(status)
	it.DateAdded = time.Unix(0, dateAdded)
	if fileSize.Valid {
		v := fileSize.Int64
		it.FileSize = &v
	}
	if duration.Valid {
		v := duration.Float64
		it.Duration = &v
	}
	if downloadedAt.Valid {
		v := time.Unix(0, downloadedAt.Int64)
		it.DownloadedAt = &v
	}
	return it, nil
}
