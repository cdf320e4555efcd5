package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bbernstein/vizmix-go/internal/database/models"
)

func TestConnect_InMemory(t *testing.T) {
	db, err := Connect(Config{URL: ":memory:", MaxIdleConn: 1, MaxOpenConn: 4})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = Close(db) }()

	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		t.Errorf("Failed to query database: %v", err)
	}
	if result != 1 {
		t.Errorf("Expected 1, got %d", result)
	}

	sqlDB, _ := db.DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("Expected in-memory database pinned to 1 connection, got %d", got)
	}
}

func TestConnect_WithFilePrefix(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vizmix.db")

	db, err := Connect(Config{URL: "file:" + dbPath, MaxIdleConn: 1, MaxOpenConn: 1})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = Close(db) }()

	// SQLite creates the file lazily
	if err := db.Exec("CREATE TABLE scratch (id INTEGER)").Error; err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Expected database file to be created")
	}
}

func TestConnect_CreatesDirectory(t *testing.T) {
	nestedPath := filepath.Join(t.TempDir(), "nested", "dir", "vizmix.db")

	db, err := Connect(Config{URL: nestedPath, MaxIdleConn: 1, MaxOpenConn: 1, Debug: true})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = Close(db) }()

	if _, err := os.Stat(filepath.Dir(nestedPath)); os.IsNotExist(err) {
		t.Error("Expected nested directory to be created")
	}
}

func TestOpen_Migrates(t *testing.T) {
	db, err := Open(Config{URL: ":memory:", MaxIdleConn: 1, MaxOpenConn: 1})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = Close(db) }()

	for _, model := range models.All() {
		if !db.Migrator().HasTable(model) {
			t.Errorf("Expected table for %T", model)
		}
	}
}

func TestDSN(t *testing.T) {
	if got := dsn(":memory:"); got != ":memory:" {
		t.Errorf("dsn(:memory:) = %q", got)
	}
	want := "data/vizmix.db?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	if got := dsn(path("file:data/vizmix.db")); got != want {
		t.Errorf("dsn() = %q, want %q", got, want)
	}
}

func TestClose_NilDB(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Errorf("Close with nil DB should not error: %v", err)
	}
}
