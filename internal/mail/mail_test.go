package mail

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/untoldecay/waggle/internal/eventlog"
	"github.com/untoldecay/waggle/internal/projection"
	"github.com/untoldecay/waggle/internal/schema"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/storage/sqlite"
	"github.com/untoldecay/waggle/internal/types"
)

func setupTestMail(t *testing.T) (*Service, storage.Adapter, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.New(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := schema.Migrate(context.Background(), store, nil); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	log := eventlog.New(store, nil)
	projection.AttachAll(log)
	registry := NewRegistry()
	t.Cleanup(registry.Clear)
	return New(log, registry, 0), store, dir
}

func initAgent(t *testing.T, svc *Service, sessionKey, project, name string) string {
	t.Helper()
	res, err := svc.Init(context.Background(), sessionKey, project, name)
	if err != nil {
		t.Fatalf("init %s failed: %v", sessionKey, err)
	}
	return res.Agent
}

func TestInitGeneratesNameAndReinitFlags(t *testing.T) {
	svc, store, project := setupTestMail(t)
	ctx := context.Background()

	res, err := svc.Init(ctx, "s1", project, "")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if res.Agent == "" {
		t.Fatal("expected a generated agent name")
	}
	if res.AlreadyInitialized {
		t.Error("fresh init reported already_initialized")
	}

	var registered int
	err = store.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agents WHERE name = ?
	`, res.Agent).Scan(&registered)
	if err != nil {
		t.Fatalf("failed to query agents: %v", err)
	}
	if registered != 1 {
		t.Errorf("agent rows = %d, want 1", registered)
	}

	again, err := svc.Init(ctx, "s1", project, "")
	if err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	if !again.AlreadyInitialized {
		t.Error("re-init did not report already_initialized")
	}
	if again.Agent != res.Agent {
		t.Errorf("re-init changed identity: %s -> %s", res.Agent, again.Agent)
	}
}

func TestSendWithoutSession(t *testing.T) {
	svc, _, _ := setupTestMail(t)

	_, err := svc.Send(context.Background(), "ghost", SendRequest{
		To: []string{"anyone"}, Subject: "hi", Body: "there",
	})
	if !errors.Is(err, types.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestInboxCeilingAndBodyOmission(t *testing.T) {
	svc, _, project := setupTestMail(t)
	ctx := context.Background()

	sender := initAgent(t, svc, "sender", project, "GoldFox")
	receiver := initAgent(t, svc, "receiver", project, "BlueLake")

	for i := 0; i < 8; i++ {
		_, err := svc.Send(ctx, "sender", SendRequest{
			To:      []string{receiver},
			Subject: fmt.Sprintf("update %d", i),
			Body:    "a body that must never appear in inbox listings",
		})
		if err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	inbox, err := svc.Inbox(ctx, "receiver", types.InboxFilter{Limit: 50})
	if err != nil {
		t.Fatalf("inbox failed: %v", err)
	}
	if len(inbox.Entries) != DefaultMaxInbox {
		t.Errorf("inbox returned %d entries, want ceiling %d", len(inbox.Entries), DefaultMaxInbox)
	}
	if inbox.Total != 8 || inbox.Unread != 8 {
		t.Errorf("total=%d unread=%d, want 8/8", inbox.Total, inbox.Unread)
	}
	if !inbox.Truncated {
		t.Error("expected truncated flag")
	}
	for _, e := range inbox.Entries {
		if e.Note == "" {
			t.Errorf("entry %d missing read_message pointer note", e.ID)
		}
		if e.Sender != sender {
			t.Errorf("entry sender = %s, want %s", e.Sender, sender)
		}
	}

	// A caller asking for less than the ceiling gets less.
	small, err := svc.Inbox(ctx, "receiver", types.InboxFilter{Limit: 2})
	if err != nil {
		t.Fatalf("inbox failed: %v", err)
	}
	if len(small.Entries) != 2 {
		t.Errorf("limit 2 returned %d entries", len(small.Entries))
	}
}

func TestInboxFilters(t *testing.T) {
	svc, _, project := setupTestMail(t)
	ctx := context.Background()

	initAgent(t, svc, "sender", project, "GoldFox")
	receiver := initAgent(t, svc, "receiver", project, "BlueLake")

	send := func(subject, importance, thread string) {
		t.Helper()
		_, err := svc.Send(ctx, "sender", SendRequest{
			To: []string{receiver}, Subject: subject, Body: "b",
			Importance: importance, ThreadID: thread,
		})
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	send("routine", types.ImportanceNormal, "t-1")
	send("fire", types.ImportanceUrgent, "t-2")
	send("also routine", types.ImportanceLow, "t-1")

	urgent, err := svc.Inbox(ctx, "receiver", types.InboxFilter{UrgentOnly: true})
	if err != nil {
		t.Fatalf("urgent inbox failed: %v", err)
	}
	if len(urgent.Entries) != 1 || urgent.Entries[0].Subject != "fire" {
		t.Errorf("urgent filter returned %+v", urgent.Entries)
	}

	thread, err := svc.Inbox(ctx, "receiver", types.InboxFilter{ThreadID: "t-1"})
	if err != nil {
		t.Fatalf("thread inbox failed: %v", err)
	}
	if len(thread.Entries) != 2 {
		t.Errorf("thread filter returned %d entries, want 2", len(thread.Entries))
	}
}

func TestReadMessageStampsOnce(t *testing.T) {
	svc, store, project := setupTestMail(t)
	ctx := context.Background()

	initAgent(t, svc, "sender", project, "GoldFox")
	initAgent(t, svc, "receiver", project, "BlueLake")

	sent, err := svc.Send(ctx, "sender", SendRequest{
		To: []string{"BlueLake"}, Subject: "handoff", Body: "full body here",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msg, err := svc.ReadMessage(ctx, "receiver", sent.ID)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Body != "full body here" {
		t.Errorf("read body = %q", msg.Body)
	}
	if msg.ReadAt == nil {
		t.Error("first read did not stamp read_at")
	}

	if _, err := svc.ReadMessage(ctx, "receiver", sent.ID); err != nil {
		t.Fatalf("second read failed: %v", err)
	}

	var readEvents int
	err = store.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE type = ?
	`, types.EventMessageRead).Scan(&readEvents)
	if err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if readEvents != 1 {
		t.Errorf("message_read events = %d, want 1 (idempotent reads)", readEvents)
	}

	inbox, err := svc.Inbox(ctx, "receiver", types.InboxFilter{})
	if err != nil {
		t.Fatalf("inbox failed: %v", err)
	}
	if inbox.Unread != 0 {
		t.Errorf("unread after read = %d, want 0", inbox.Unread)
	}
}

func TestAckIdempotentAndScoped(t *testing.T) {
	svc, store, project := setupTestMail(t)
	ctx := context.Background()

	initAgent(t, svc, "sender", project, "GoldFox")
	initAgent(t, svc, "receiver", project, "BlueLake")
	initAgent(t, svc, "bystander", project, "RedPeak")

	sent, err := svc.Send(ctx, "sender", SendRequest{
		To: []string{"BlueLake"}, Subject: "needs ack", Body: "b", AckRequired: true,
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if err := svc.Ack(ctx, "receiver", sent.ID); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if err := svc.Ack(ctx, "receiver", sent.ID); err != nil {
		t.Fatalf("second ack failed: %v", err)
	}

	var ackEvents int
	err = store.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE type = ?
	`, types.EventMessageAcked).Scan(&ackEvents)
	if err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if ackEvents != 1 {
		t.Errorf("message_acked events = %d, want 1", ackEvents)
	}

	// An agent the message was not addressed to cannot ack it.
	if err := svc.Ack(ctx, "bystander", sent.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("bystander ack error = %v, want ErrNotFound", err)
	}

	// Ack implies read.
	msg, err := svc.ReadMessage(ctx, "receiver", sent.ID)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.ReadAt == nil || msg.AckedAt == nil {
		t.Errorf("after ack: read_at=%v acked_at=%v", msg.ReadAt, msg.AckedAt)
	}
}

func TestListAgents(t *testing.T) {
	svc, _, project := setupTestMail(t)
	ctx := context.Background()

	initAgent(t, svc, "s1", project, "GoldFox")
	initAgent(t, svc, "s2", project, "BlueLake")

	agents, err := svc.ListAgents(ctx, project)
	if err != nil {
		t.Fatalf("list agents failed: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(agents))
	}
	for _, a := range agents {
		if a.RegisteredAt.IsZero() || a.LastActiveAt.IsZero() {
			t.Errorf("agent %s missing timestamps", a.Name)
		}
	}
}
