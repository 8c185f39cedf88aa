package restore

import (
	"context"
	"testing"
	"time"

	"github.com/critlab/critwatch/fingerprint"
	"github.com/critlab/critwatch/history"
	"github.com/critlab/critwatch/hostdom"
	"github.com/critlab/critwatch/hostdom/domtest"
	"github.com/critlab/critwatch/style"
)

func testSetup(t *testing.T) (*domtest.Tree, *history.Store, *Restorer) {
	t.Helper()
	tree := domtest.New()
	store := history.New(history.Options{})
	app := style.NewApplicator(style.ApplicatorConfig{
		VerifyChecks:   1,
		VerifyInterval: 5 * time.Millisecond,
		Events:         tree,
	})
	r := New(store, tree, app, Config{
		ThrottleInterval: 50 * time.Millisecond,
		RetryAttempts:    3,
		RetryBackoff:     time.Millisecond,
	}, nil)
	return tree, store, r
}

func msgData(channel, content string) hostdom.MessageData {
	return hostdom.MessageData{
		Author:    "ayla",
		ChannelID: channel,
		Content:   content,
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func recordCrit(store *history.Store, md hostdom.MessageData) fingerprint.Fingerprint {
	fp := fingerprint.Compute(md)
	store.Record(fp, history.Decision{IsCrit: true, Roll: 0.01, Style: style.Default()})
	return fp
}

func TestRestoreChannel_RestylesMountedCrits(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "critical hit")
	recordCrit(store, md)
	// The host re-rendered the channel: the node exists, the decoration is
	// gone, and no new-message event fires for it.
	el := tree.MountSilent(md)

	rep, err := r.RestoreChannel(context.Background(), "chan-1")
	if err != nil {
		t.Fatalf("RestoreChannel: %v", err)
	}
	if rep.Matched != 1 || rep.Restored != 1 {
		t.Errorf("report: %+v, want matched=1 restored=1", rep)
	}
	if el.ContentChild().StyleValue("background-image") == "" {
		t.Error("crit element not re-styled")
	}
}

func TestRestoreChannel_AlreadyStyledNotReapplied(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "critical hit")
	recordCrit(store, md)
	el := tree.MountSilent(md)

	if _, err := r.RestoreChannel(context.Background(), "chan-1"); err != nil {
		t.Fatal(err)
	}
	rep, err := r.RestoreChannel(context.Background(), "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Restored != 0 {
		t.Errorf("second pass restored=%d, want 0 (apply is idempotent)", rep.Restored)
	}
	if el.ContentChild().StyleValue("background-image") == "" {
		t.Error("styling lost between passes")
	}
}

func TestRestoreChannel_ScopedToChannel(t *testing.T) {
	tree, store, r := testSetup(t)

	mdA := msgData("chan-1", "crit in a")
	mdB := msgData("chan-2", "crit in b")
	recordCrit(store, mdA)
	recordCrit(store, mdB)
	tree.MountSilent(mdA)
	elB := tree.MountSilent(mdB)

	rep, err := r.RestoreChannel(context.Background(), "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Matched != 1 {
		t.Errorf("matched: got %d, want 1", rep.Matched)
	}
	if elB.ContentChild().StyleValue("background-image") != "" {
		t.Error("restoration touched another channel's element")
	}
}

func TestRestoreChannel_NonCritIgnored(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "ordinary")
	tree.MountSilent(md)
	_ = store // nothing recorded: never seen or decided non-crit

	rep, err := r.RestoreChannel(context.Background(), "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 1 || rep.Matched != 0 {
		t.Errorf("report: %+v, want scanned=1 matched=0", rep)
	}
}

func TestRestoreChannel_UnmountedEntryNotAnError(t *testing.T) {
	_, store, r := testSetup(t)

	// The entry exists but its element is above the virtualized viewport.
	recordCrit(store, msgData("chan-1", "scrolled away"))

	rep, err := r.RestoreChannel(context.Background(), "chan-1")
	if err != nil {
		t.Fatalf("unmounted entry caused error: %v", err)
	}
	if rep.Matched != 0 {
		t.Errorf("matched: got %d, want 0", rep.Matched)
	}
}

func TestRestore_ReplacementNodeCaughtWithoutNewEntry(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "critical hit")
	recordCrit(store, md)
	el := tree.MountSilent(md)

	if _, err := r.RestoreChannel(context.Background(), "chan-1"); err != nil {
		t.Fatal(err)
	}

	// Host swaps the node: same logical message, fresh unstyled element.
	replacement := tree.Replace(el)
	rep, err := r.RestoreChannel(context.Background(), "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Restored != 1 {
		t.Errorf("restored: got %d, want 1", rep.Restored)
	}
	if replacement.ContentChild().StyleValue("background-image") == "" {
		t.Error("replacement node not re-styled")
	}
	if store.Len() != 1 {
		t.Errorf("store entries: got %d, want 1 (restoration must not create entries)", store.Len())
	}
}

func TestRestore_RetryBudgetExhausted(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "stubborn")
	fp := recordCrit(store, md)
	// System shape: the locator never finds styleable content, so every
	// attempt fails with ErrContentNotFound.
	tree.MountSystem(md)

	rep, err := r.RestoreChannel(context.Background(), "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Matched != 1 || rep.Exhausted != 0 {
		t.Errorf("first pass: %+v, want matched=1 exhausted=0 (budget spans retries)", rep)
	}
	if _, ok := r.NextRetryAt(); !ok {
		t.Fatal("no retry scheduled after failed attempt")
	}

	// Burn the rest of the budget through due retries.
	var exhausted int
	for i := 0; i < 10 && exhausted == 0; i++ {
		time.Sleep(5 * time.Millisecond) // past every linear backoff step
		exhausted = r.RetryDue(context.Background()).Exhausted
	}
	if exhausted != 1 {
		t.Fatal("retry budget never exhausted")
	}
	if _, ok := r.NextRetryAt(); ok {
		t.Error("task still scheduled after exhaustion")
	}

	entry, ok := store.Find(fp)
	if !ok {
		t.Fatal("entry vanished")
	}
	if entry.RestorationAttempts != 3 {
		t.Errorf("attempts: got %d, want 3 (retry budget)", entry.RestorationAttempts)
	}
}

func TestRestore_FailureDoesNotBlockOthers(t *testing.T) {
	tree := domtest.New()
	store := history.New(history.Options{})
	app := style.NewApplicator(style.ApplicatorConfig{
		VerifyChecks:   1,
		VerifyInterval: 5 * time.Millisecond,
		Events:         tree,
	})
	r := New(store, tree, app, Config{
		ThrottleInterval: 50 * time.Millisecond,
		RetryAttempts:    3,
		RetryBackoff:     150 * time.Millisecond,
	}, nil)

	bad := msgData("chan-1", "unstyleable")
	good := msgData("chan-1", "fine")
	recordCrit(store, bad)
	recordCrit(store, good)
	tree.MountSystem(bad)
	el := tree.MountSilent(good)

	start := time.Now()
	rep, err := r.RestoreChannel(context.Background(), "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if rep.Restored != 1 {
		t.Errorf("restored: got %d, want 1", rep.Restored)
	}
	if el.ContentChild().StyleValue("background-image") == "" {
		t.Error("healthy element skipped because a sibling failed")
	}
	// The failing sibling books its retry instead of waiting for it.
	if elapsed >= 150*time.Millisecond {
		t.Errorf("scan took %v, want well under one backoff step", elapsed)
	}
	if _, ok := r.NextRetryAt(); !ok {
		t.Error("failing element has no scheduled retry")
	}
}

func TestRetryDue_DeadElementDropsTask(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "stubborn")
	recordCrit(store, md)
	el := tree.MountSystem(md)

	if _, err := r.RestoreChannel(context.Background(), "chan-1"); err != nil {
		t.Fatal(err)
	}
	tree.Unmount(el)

	time.Sleep(5 * time.Millisecond)
	rep := r.RetryDue(context.Background())
	if rep.Restored != 0 || rep.Exhausted != 0 {
		t.Errorf("report: %+v, want empty (dead element is not a failure)", rep)
	}
	if _, ok := r.NextRetryAt(); ok {
		t.Error("task survived its element")
	}
}

func TestRestore_DrainsPendingOnMount(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "queued crit")
	fp := recordCrit(store, md)
	store.EnqueuePending(history.PendingDecision{
		Fingerprint: fp,
		Decision:    history.Decision{IsCrit: true, Roll: 0.01, Style: style.Default()},
	})

	tree.MountSilent(md)
	if _, err := r.RestoreChannel(context.Background(), "chan-1"); err != nil {
		t.Fatal(err)
	}
	if store.PendingLen() != 0 {
		t.Errorf("pending after restore: got %d, want 0", store.PendingLen())
	}
}

func TestRestore_AnimationMarkerSet(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "critical hit")
	recordCrit(store, md) // Default() has AnimationEnabled
	el := tree.MountSilent(md)

	if _, err := r.RestoreChannel(context.Background(), "chan-1"); err != nil {
		t.Fatal(err)
	}
	if !el.HasClass(style.AnimationClass) {
		t.Error("restoration animation marker missing")
	}
}

func TestRestore_AnimationDisabledNoMarker(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "critical hit")
	fp := fingerprint.Compute(md)
	cfg := style.Default()
	cfg.AnimationEnabled = false
	store.Record(fp, history.Decision{IsCrit: true, Roll: 0.01, Style: cfg})
	el := tree.MountSilent(md)

	if _, err := r.RestoreChannel(context.Background(), "chan-1"); err != nil {
		t.Fatal(err)
	}
	if el.HasClass(style.AnimationClass) {
		t.Error("animation marker set despite animation disabled")
	}
}

func TestCheck_Throttled(t *testing.T) {
	tree, store, r := testSetup(t)

	md := msgData("chan-1", "critical hit")
	recordCrit(store, md)

	if _, err := r.Check(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Mount between two checks inside the throttle window: the second check
	// must be a no-op.
	el := tree.MountSilent(md)
	rep, err := r.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 0 {
		t.Errorf("throttled check scanned %d, want 0", rep.Scanned)
	}

	time.Sleep(60 * time.Millisecond)
	rep, err = r.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Restored != 1 {
		t.Errorf("post-throttle check restored %d, want 1", rep.Restored)
	}
	if el.ContentChild().StyleValue("background-image") == "" {
		t.Error("element not restored after throttle window")
	}
}

func TestErrRetryExhausted_Message(t *testing.T) {
	err := &ErrRetryExhausted{Fingerprint: "c|a|h|1", Attempts: 5}
	want := "restore: retry budget exhausted after 5 attempts (c|a|h|1)"
	if err.Error() != want {
		t.Errorf("Error: got %q, want %q", err.Error(), want)
	}
}
