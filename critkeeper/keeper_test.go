package critkeeper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/critlab/critwatch/audit"
	"github.com/critlab/critwatch/dbopen"
	"github.com/critlab/critwatch/decision"
	"github.com/critlab/critwatch/hostdom"
	"github.com/critlab/critwatch/hostdom/domtest"
	"github.com/critlab/critwatch/restore"
	"github.com/critlab/critwatch/style"
	_ "modernc.org/sqlite"
)

func testKeeper(t *testing.T, tree *domtest.Tree) *Keeper {
	t.Helper()
	k, err := New(tree, &Config{
		// Probability 1.0: every message crits, keeping the test deterministic
		// without reaching into the engine's PRNG.
		Crit:          decision.Config{CritProbability: prob(1.0)},
		Restore:       restore.Config{ThrottleInterval: time.Millisecond, RetryBackoff: time.Millisecond},
		Verify:        VerifyConfig{Checks: 1, Interval: 5 * time.Millisecond},
		CheckInterval: 10 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func prob(p float64) *float64 { return &p }

func msgData(channel, content string) hostdom.MessageData {
	return hostdom.MessageData{
		Author:    "ayla",
		ChannelID: channel,
		Content:   content,
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for " + what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestKeeper_MessageEventDecoratesCrit(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer k.Stop()

	el := tree.MountMessage(msgData("chan-1", "big damage"))

	waitFor(t, "crit entry", func() bool { return k.Stats().Entries == 1 })
	waitFor(t, "decoration", func() bool {
		return el.ContentChild().StyleValue("background-image") != ""
	})
}

func TestKeeper_StartTwiceFails(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	if err := k.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer k.Stop()

	if err := k.Start(context.Background()); err == nil {
		t.Error("second Start: err=nil, want error")
	}
}

func TestKeeper_ChannelActivationRestores(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	if err := k.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer k.Stop()

	md := msgData("chan-1", "big damage")
	el := tree.MountMessage(md)
	waitFor(t, "entry", func() bool { return k.Stats().Entries == 1 })
	waitFor(t, "initial decoration", func() bool {
		return el.ContentChild().StyleValue("background-image") != ""
	})

	// Channel switch away and back: old node dies, an unstyled clone mounts
	// silently, then the channel-activation signal fires.
	replacement := tree.Replace(el)
	tree.SignalChannelMounted("chan-1")

	waitFor(t, "restoration", func() bool {
		return replacement.ContentChild().StyleValue("background-image") != ""
	})
	if k.Stats().Entries != 1 {
		t.Errorf("entries after restoration: got %d, want 1", k.Stats().Entries)
	}
}

func TestKeeper_StripRecovery(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	if err := k.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer k.Stop()

	el := tree.MountMessage(msgData("chan-1", "big damage"))
	waitFor(t, "decoration", func() bool {
		return el.ContentChild().StyleValue("background-image") != ""
	})

	tree.StripStyles(el)
	waitFor(t, "re-decoration after strip", func() bool {
		return el.ContentChild().StyleValue("background-image") != ""
	})
}

func TestKeeper_QueuedDecisionResolvedOnMount(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	if err := k.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer k.Stop()

	md := msgData("chan-1", "early bird")
	// Decision arrives before the node exists.
	tree.EmitEvent(md)
	waitFor(t, "queued decision", func() bool { return k.Stats().Pending == 1 })

	el := tree.MountSilent(md)
	tree.SignalChannelMounted("chan-1")

	waitFor(t, "queued decision applied", func() bool {
		return el.ContentChild().StyleValue("background-image") != ""
	})
	waitFor(t, "pending drained", func() bool { return k.Stats().Pending == 0 })
}

func TestKeeper_RetryTimerExhaustsStubbornElement(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	if err := k.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer k.Stop()

	md := msgData("chan-1", "stubborn")
	// The decision lands before any node exists, then the node that
	// materialises is a system notice: never styleable.
	tree.EmitEvent(md)
	waitFor(t, "queued decision", func() bool { return k.Stats().Pending == 1 })

	tree.MountSystem(md)
	tree.SignalChannelMounted("chan-1")

	// The loop's retry timer must walk the budget down on its own; no
	// further host activity is required.
	waitFor(t, "retry budget exhausted", func() bool { return k.Stats().Exhausted >= 1 })
}

func TestNoteReport_AuditEventKinds(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	db := dbopen.OpenMemory(t, dbopen.WithSchema(audit.Schema))
	k.SetAuditor(audit.NewLogger(db))

	k.noteReport(context.Background(), restore.Report{Scanned: 5, Restored: 2, Exhausted: 1})

	rows, err := db.Query(`SELECT kind FROM crit_events ORDER BY kind`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var kinds []string
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) != 2 || kinds[0] != "exhausted" || kinds[1] != "restoration" {
		t.Errorf("event kinds: got %v, want [exhausted restoration]", kinds)
	}
}

func TestKeeper_SetStyleAffectsOnlyFutureDecisions(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	if err := k.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer k.Stop()

	first := tree.MountMessage(msgData("chan-1", "before change"))
	waitFor(t, "first decoration", func() bool {
		return first.ContentChild().StyleValue("background-image") != ""
	})

	if _, err := k.SetStyle(style.Config{Mode: style.ModeSolid, ColorStops: []string{"#123456"}}); err != nil {
		t.Fatalf("SetStyle: %v", err)
	}

	second := tree.MountMessage(msgData("chan-1", "after change"))
	waitFor(t, "second decoration", func() bool {
		return second.ContentChild().StyleValue("color") == "#123456"
	})

	entries := k.History("chan-1")
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].StyleSnapshot.Mode != style.ModeGradient {
		t.Errorf("first snapshot mode: got %s, want gradient", entries[0].StyleSnapshot.Mode)
	}
}

func TestKeeper_SetStyleInvalidFallsBack(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)

	applied, err := k.SetStyle(style.Config{Mode: "sparkle"})
	if err == nil {
		t.Error("invalid style: err=nil, want validation error")
	}
	if applied.Mode != style.Default().Mode {
		t.Errorf("applied mode: got %s, want default", applied.Mode)
	}
}

func TestKeeper_PurgeChannel(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	if err := k.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer k.Stop()

	tree.MountMessage(msgData("chan-1", "one"))
	tree.MountMessage(msgData("chan-2", "two"))
	waitFor(t, "entries", func() bool { return k.Stats().Entries == 2 })

	if n := k.PurgeChannel("chan-1"); n != 1 {
		t.Errorf("PurgeChannel: got %d, want 1", n)
	}
	if got := len(k.History("chan-2")); got != 1 {
		t.Errorf("chan-2 history: got %d, want 1", got)
	}
}

func TestHandler_StatsAndHealth(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	srv := httptest.NewServer(k.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: status %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Entries != 0 {
		t.Errorf("entries: got %d, want 0", stats.Entries)
	}
}

func TestHandler_StyleRoundTrip(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	srv := httptest.NewServer(k.Handler())
	defer srv.Close()

	body := `{"mode":"solid","color_stops":["#ff0000"]}`
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/style", strings.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /style: status %d", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/style")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	var cfg style.Config
	if err := json.NewDecoder(getResp.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != style.ModeSolid {
		t.Errorf("mode after PUT: got %s, want solid", cfg.Mode)
	}
}

func TestHandler_RestoreEndpoint(t *testing.T) {
	tree := domtest.New()
	k := testKeeper(t, tree)
	srv := httptest.NewServer(k.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/restore/chan-1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST /restore: status %d, want 200", resp.StatusCode)
	}
	var rep restore.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
}
