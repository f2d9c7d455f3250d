package postgres

import (
	"database/sql"
	"errors"
	"testing"
)

func TestNewStoreOpenFailure(t *testing.T) {
	boom := errors.New("connection refused")
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("unexpected driver %q", driverName)
		}
		if dsn != defaultDSN {
			t.Fatalf("expected default DSN, got %q", dsn)
		}
		return nil, boom
	})
	defer restore()

	if _, err := NewStore("", nil); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewStorePassesExplicitDSN(t *testing.T) {
	want := "postgres://db.internal/helixcore"
	boom := errors.New("stop here")
	restore := OverrideSQLOpen(func(_, dsn string) (*sql.DB, error) {
		if dsn != want {
			t.Fatalf("dsn %q, want %q", dsn, want)
		}
		return nil, boom
	})
	defer restore()

	if _, err := NewStore(want, nil); !errors.Is(err, boom) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOverrideSQLOpenRestores(t *testing.T) {
	sentinel := errors.New("swapped")
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, sentinel })
	restore()

	openMu.Lock()
	defer openMu.Unlock()
	db, err := sqlOpen("pgx", "postgres://unused")
	if errors.Is(err, sentinel) {
		t.Fatal("restore did not reinstate the original opener")
	}
	if db != nil {
		_ = db.Close()
	}
}
