package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store holds the raw record bytes. Writes replace the whole record.
type Store interface {
	// ReadRecord returns RecordSize bytes; zeroes when nothing was written yet.
	ReadRecord() ([]byte, error)

	// WriteRecord replaces the record.
	WriteRecord(b []byte) error

	// Close releases resources.
	Close() error
}

// FileStore emulates an EEPROM with an image file; the record lives at Offset.
// Writes go to a temporary file renamed over the image.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) image() ([]byte, error) {
	img := make([]byte, ImageSize)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return img, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	copy(img, data)
	return img, nil
}

// ReadRecord reads the record from the image.
func (s *FileStore) ReadRecord() ([]byte, error) {
	img, err := s.image()
	if err != nil {
		return nil, err
	}
	out := make([]byte, RecordSize)
	copy(out, img[Offset:Offset+RecordSize])
	return out, nil
}

// WriteRecord writes the record into the image atomically.
func (s *FileStore) WriteRecord(b []byte) error {
	if len(b) != RecordSize {
		return fmt.Errorf("write %d bytes: %w", len(b), ErrShortRecord)
	}
	img, err := s.image()
	if err != nil {
		return err
	}
	copy(img[Offset:], b)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp image: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace image: %w", err)
	}
	return nil
}

// Close is a no-op for files.
func (s *FileStore) Close() error {
	return nil
}

// SQLiteStore keeps the record as a blob keyed by its image offset.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and its table.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS eeprom (
		addr INTEGER PRIMARY KEY,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// ReadRecord returns the stored blob, or zeroes if none.
func (s *SQLiteStore) ReadRecord() ([]byte, error) {
	out := make([]byte, RecordSize)
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM eeprom WHERE addr = ?`, Offset).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	copy(out, data)
	return out, nil
}

// WriteRecord upserts the blob.
func (s *SQLiteStore) WriteRecord(b []byte) error {
	if len(b) != RecordSize {
		return fmt.Errorf("write %d bytes: %w", len(b), ErrShortRecord)
	}
	_, err := s.db.Exec(`INSERT INTO eeprom (addr, data) VALUES (?, ?)
		ON CONFLICT(addr) DO UPDATE SET data = excluded.data`, Offset, b)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
