package audit

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/critlab/critwatch/dbopen"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestLog_WritesEvent(t *testing.T) {
	db := testDB(t)
	l := NewLogger(db)

	l.Log(context.Background(), Event{
		Kind:        "decision",
		Fingerprint: "chan-1|ayla|deadbeef|100",
		ChannelID:   "chan-1",
		IsCrit:      true,
		Roll:        0.021,
		Detail:      "crit",
	})

	var kind, fp string
	var isCrit int
	var roll float64
	err := db.QueryRow(`SELECT kind, fingerprint, is_crit, roll FROM crit_events`).
		Scan(&kind, &fp, &isCrit, &roll)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if kind != "decision" {
		t.Errorf("kind: got %q", kind)
	}
	if fp != "chan-1|ayla|deadbeef|100" {
		t.Errorf("fingerprint: got %q", fp)
	}
	if isCrit != 1 {
		t.Errorf("is_crit: got %d, want 1", isCrit)
	}
	if roll != 0.021 {
		t.Errorf("roll: got %v", roll)
	}
}

func TestLog_GeneratesUniqueIDs(t *testing.T) {
	db := testDB(t)
	l := NewLogger(db)

	for i := 0; i < 5; i++ {
		l.Log(context.Background(), Event{Kind: "restoration", ChannelID: "chan-1"})
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(DISTINCT event_id) FROM crit_events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("distinct event ids: got %d, want 5", n)
	}
}

func TestLog_FailureDoesNotPanic(t *testing.T) {
	db := testDB(t)
	l := NewLogger(db)
	db.Close()

	// Closed database: Log must swallow the error.
	l.Log(context.Background(), Event{Kind: "decision"})
}

func TestCleanup_Retention(t *testing.T) {
	db := testDB(t)

	old := time.Now().Add(-72 * time.Hour).Unix()
	fresh := time.Now().Unix()
	for i, ts := range []int64{old, fresh} {
		if _, err := db.Exec(`
			INSERT INTO crit_events (event_id, kind, fingerprint, channel_id, created_at)
			VALUES (?, 'decision', 'fp', 'chan-1', ?)`,
			fmt.Sprintf("evt-%d", i), ts); err != nil {
			t.Fatal(err)
		}
	}

	if err := Cleanup(context.Background(), db, 1); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM crit_events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("events after cleanup: got %d, want 1", n)
	}
}

func TestCleanup_ZeroRetentionKeepsAll(t *testing.T) {
	db := testDB(t)
	l := NewLogger(db)
	l.Log(context.Background(), Event{Kind: "decision"})

	if err := Cleanup(context.Background(), db, 0); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM crit_events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("events: got %d, want 1", n)
	}
}
