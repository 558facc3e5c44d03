package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"godrop/models"
)

// SaveFileRecord inserts one completed transfer row.
func (s *Store) SaveFileRecord(record models.FileRecord) error {
	if record.FileID == "" {
		return errors.New("file_id is required")
	}
	if record.Filename == "" {
		return errors.New("filename is required")
	}
	if record.StoredPath == "" {
		return errors.New("stored_path is required")
	}
	if err := validateDirection(record.Direction); err != nil {
		return err
	}
	if record.Timestamp == 0 {
		record.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO files (
			file_id,
			filename,
			filesize,
			filetype,
			stored_path,
			direction,
			peer_name,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.FileID,
		record.Filename,
		record.Filesize,
		nullString(record.Filetype),
		record.StoredPath,
		record.Direction,
		nullString(record.PeerName),
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert file record %q: %w", record.FileID, err)
	}

	return nil
}

// GetFileByID fetches one transfer record by file ID.
func (s *Store) GetFileByID(fileID string) (*models.FileRecord, error) {
	row := s.db.QueryRow(
		`SELECT
			file_id,
			filename,
			filesize,
			filetype,
			stored_path,
			direction,
			peer_name,
			timestamp
		FROM files
		WHERE file_id = ?`,
		fileID,
	)

	record, err := scanFileRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get file record %q: %w", fileID, err)
	}

	return record, nil
}

// ListFiles returns transfer records newest first, optionally filtered by direction.
func (s *Store) ListFiles(direction string) ([]models.FileRecord, error) {
	query := `SELECT
		file_id,
		filename,
		filesize,
		filetype,
		stored_path,
		direction,
		peer_name,
		timestamp
	FROM files`
	args := make([]any, 0, 1)
	if direction != "" {
		if err := validateDirection(direction); err != nil {
			return nil, err
		}
		query += " WHERE direction = ?"
		args = append(args, direction)
	}
	query += " ORDER BY timestamp DESC, file_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()

	records := make([]models.FileRecord, 0)
	for rows.Next() {
		record, scanErr := scanFileRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan file record row: %w", scanErr)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file record rows: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row scanner) (*models.FileRecord, error) {
	var (
		record   models.FileRecord
		filetype sql.NullString
		peerName sql.NullString
	)

	if err := row.Scan(
		&record.FileID,
		&record.Filename,
		&record.Filesize,
		&filetype,
		&record.StoredPath,
		&record.Direction,
		&peerName,
		&record.Timestamp,
	); err != nil {
		return nil, err
	}

	if filetype.Valid {
		record.Filetype = filetype.String
	}
	if peerName.Valid {
		record.PeerName = peerName.String
	}

	return &record, nil
}
