package nvm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// github.com/mattn/go-sqlite3 is for sqlite.
	_ "github.com/mattn/go-sqlite3"
)

const (
	dbFileName    = "eeprom.db"
	imageFileName = "eeprom.bin"
)

var (
	errImageMigration = errors.New("error migrating the eeprom image to sqlite. the sigfox area will be reset")
	errNoDB           = errors.New("eeprom database is not open")
)

// SqliteStorage emulates the eeprom in a sqlite database, one row per byte.
type SqliteStorage struct {
	db *sql.DB
}

// NewSqliteStorage creates or opens the eeprom database in dataDir.
// A raw bank 0 image left by an older firmware (eeprom.bin) is migrated and removed.
func NewSqliteStorage(ctx context.Context, dataDir string) (*SqliteStorage, error) {
	filePathDB := filepath.Join(dataDir, dbFileName)
	db, err := sql.Open("sqlite3", filePathDB)
	if err != nil {
		return nil, err
	}

	// create the table if it does not exist
	sqlStmt := `
	create table if not exists eeprom(bank INTEGER NOT NULL, addr INTEGER NOT NULL, value INTEGER NOT NULL, PRIMARY KEY (bank, addr));
	`
	if _, err = db.ExecContext(ctx, sqlStmt); err != nil {
		//nolint:errcheck
		db.Close()
		return nil, err
	}
	s := &SqliteStorage{db: db}

	if err := s.migrateImage(ctx, filepath.Join(dataDir, imageFileName)); err != nil {
		//nolint:errcheck
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStorage) migrateImage(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return errImageMigration
	}
	if len(image) > 0 {
		if err := s.Write(ctx, Bank0, 0, image); err != nil {
			return errImageMigration
		}
	}
	if err := os.Remove(path); err != nil {
		return errImageMigration
	}
	return nil
}

// Read returns length bytes at offset, unwritten bytes read as zero.
func (s *SqliteStorage) Read(ctx context.Context, bank Bank, offset, length uint32) ([]byte, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx,
		"select addr, value from eeprom where bank = ? and addr >= ? and addr < ?",
		bank, offset, uint64(offset)+uint64(length))
	if err != nil {
		return nil, err
	}
	//nolint:errcheck
	defer rows.Close()

	out := make([]byte, length)
	for rows.Next() {
		var off uint32
		var value byte
		if err := rows.Scan(&off, &value); err != nil {
			return nil, err
		}
		out[off-offset] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Write stores data at offset in a single transaction.
func (s *SqliteStorage) Write(ctx context.Context, bank Bank, offset uint32, data []byte) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "insert or replace into eeprom (bank, addr, value) VALUES(?, ?, ?);")
	if err != nil {
		//nolint:errcheck
		tx.Rollback()
		return err
	}
	//nolint:errcheck
	defer stmt.Close()

	for i, b := range data {
		if _, err := stmt.ExecContext(ctx, bank, offset+uint32(i), b); err != nil {
			//nolint:errcheck
			tx.Rollback()
			return fmt.Errorf("failed to write eeprom offset %d: %w", offset+uint32(i), err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SqliteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
