package infra

import (
	"bytes"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

const (
	historyDBName  = "history.db"
	historyKeyName = "history.key"
	historyKeySize = 32 // 256-bit SQLCipher key
)

// EncryptedHistory implements domain.HistoryStore on a SQLCipher database.
type EncryptedHistory struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedHistory opens (or creates) the history database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedHistory(dataDir string, key []byte) (*EncryptedHistory, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, historyDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	h := &EncryptedHistory{db: db, dbPath: dbPath}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return h, nil
}

// OpenHistory opens the history in dataDir, creating its key on first use.
func OpenHistory(dataDir string) (*EncryptedHistory, error) {
	key, err := historyKey(dataDir)
	if err != nil {
		return nil, err
	}
	return NewEncryptedHistory(dataDir, key)
}

// HistoryExists reports whether a history was ever opened in dataDir.
// Readers check it so that looking at an empty history creates nothing.
func HistoryExists(dataDir string) bool {
	for _, name := range []string{historyKeyName, historyDBName} {
		if _, err := os.Stat(filepath.Join(dataDir, name)); err != nil {
			return false
		}
	}
	return true
}

// historyKey loads the hex-encoded key kept next to the database,
// generating it (0600) on first use.
func historyKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, historyKeyName)

	encoded, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(string(bytes.TrimSpace(encoded)))
		if err != nil || len(key) != historyKeySize {
			return nil, fmt.Errorf("history key %s is corrupt", path)
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read history key: %w", err)
	}

	key, err := newHistoryKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write history key: %w", err)
	}
	return key, nil
}

func newHistoryKey() ([]byte, error) {
	key := make([]byte, historyKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate history key: %w", err)
	}
	return key, nil
}

func (h *EncryptedHistory) createTables() error {
	_, err := h.db.Exec(`
	CREATE TABLE IF NOT EXISTS sweeps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		initial_targets INTEGER NOT NULL,
		final_leftovers INTEGER NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		signals_sent INTEGER NOT NULL DEFAULT 0,
		signals_failed INTEGER NOT NULL DEFAULT 0,
		canceled INTEGER NOT NULL DEFAULT 0
	);`)
	return err
}

// Record stores one sweep result and returns its id.
func (h *EncryptedHistory) Record(user string, r domain.SweepResult) (int64, error) {
	canceled := 0
	if r.Canceled {
		canceled = 1
	}
	res, err := h.db.Exec(`
		INSERT INTO sweeps (user, started_at, duration_ms, initial_targets, final_leftovers,
			iterations, signals_sent, signals_failed, canceled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user, r.StartedAt.UnixMilli(), r.Duration.Milliseconds(),
		r.InitialTargetCount, r.FinalLeftoverCount,
		r.Iterations, r.SignalsSent, r.SignalsFailed, canceled,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Recent returns up to limit sweeps, newest first.
func (h *EncryptedHistory) Recent(limit int) ([]domain.SweepRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := h.db.Query(`
		SELECT id, user, started_at, duration_ms, initial_targets, final_leftovers,
			iterations, signals_sent, signals_failed, canceled
		FROM sweeps ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.SweepRecord
	for rows.Next() {
		var rec domain.SweepRecord
		var startedMs, durationMs int64
		var canceled int
		if err := rows.Scan(&rec.ID, &rec.User, &startedMs, &durationMs,
			&rec.Result.InitialTargetCount, &rec.Result.FinalLeftoverCount,
			&rec.Result.Iterations, &rec.Result.SignalsSent, &rec.Result.SignalsFailed,
			&canceled); err != nil {
			return nil, err
		}
		rec.Result.StartedAt = time.UnixMilli(startedMs)
		rec.Result.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Result.Canceled = canceled != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Path returns the database file path.
func (h *EncryptedHistory) Path() string {
	return h.dbPath
}

// Close releases the database connection.
func (h *EncryptedHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Ensure EncryptedHistory implements domain.HistoryStore.
var _ domain.HistoryStore = (*EncryptedHistory)(nil)
