package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/courierbot/courier/pkg/courier/events"
)

func newTestStore(maxMessages int) *Store {
	return NewStore(StoreConfig{
		MaxMessages:    maxMessages,
		DefaultContext: Context{Model: "gpt-4o-mini", Temperature: 0.7},
	}, events.NewBus(), nil)
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)

	a := st.GetOrCreate("webchat", "conv", "user")
	b := st.GetOrCreate("webchat", "conv", "user")
	if a != b {
		t.Error("GetOrCreate returned a different session for the same triple")
	}

	c := st.GetOrCreate("webchat", "conv", "other")
	if a == c {
		t.Error("GetOrCreate returned the same session for different users")
	}
	if st.Count() != 2 {
		t.Errorf("Count() = %d, want 2", st.Count())
	}
}

func TestGetOrCreateSeedsDefaultContext(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)

	sess := st.GetOrCreate("webchat", "conv", "user")
	if sess.Context().Model != "gpt-4o-mini" {
		t.Errorf("new session model = %q, want %q", sess.Context().Model, "gpt-4o-mini")
	}
}

func TestStoreCapAcrossManyAdds(t *testing.T) {
	t.Parallel()
	st := newTestStore(50)
	sess := st.GetOrCreate("webchat", "conv", "user")

	for i := 0; i < 60; i++ {
		if !st.AddMessage(sess.Key, RoleUser, fmt.Sprintf("msg-%d", i)) {
			t.Fatalf("AddMessage(%d) reported unknown session", i)
		}
	}

	history := sess.History()
	if len(history) != 50 {
		t.Fatalf("history length = %d, want 50", len(history))
	}
	if history[0].Content != "msg-10" || history[49].Content != "msg-59" {
		t.Errorf("window = [%q .. %q], want [msg-10 .. msg-59]",
			history[0].Content, history[49].Content)
	}
}

func TestAddMessageUnknownSession(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)
	if st.AddMessage("no:such:key", RoleUser, "hi") {
		t.Error("AddMessage for unknown key = true, want false")
	}
}

func TestClearUnknownKeyIsNoOp(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)
	st.Clear("no:such:key")
}

func TestDelete(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)
	sess := st.GetOrCreate("webchat", "conv", "user")

	if !st.Delete(sess.Key) {
		t.Error("Delete(existing) = false, want true")
	}
	if st.Delete(sess.Key) {
		t.Error("Delete(already deleted) = true, want false")
	}
	if st.Get(sess.Key) != nil {
		t.Error("Get after delete returned a session")
	}
}

func TestListOrderedByActivity(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)

	current := time.Now()
	st.now = func() time.Time { return current }

	st.GetOrCreate("webchat", "old", "user")
	current = current.Add(time.Minute)
	st.GetOrCreate("webchat", "new", "user")

	infos := st.List()
	if len(infos) != 2 {
		t.Fatalf("List length = %d, want 2", len(infos))
	}
	if infos[0].ConversationID != "new" {
		t.Errorf("most recent first = %q, want %q", infos[0].ConversationID, "new")
	}
}

func TestSessionEvents(t *testing.T) {
	t.Parallel()
	bus := events.NewBus()
	st := NewStore(StoreConfig{}, bus, nil)

	var created, updated, deleted int
	bus.SubscribeNamed(events.SessionCreated, func(events.Event) { created++ })
	bus.SubscribeNamed(events.SessionUpdated, func(events.Event) { updated++ })
	bus.SubscribeNamed(events.SessionDeleted, func(events.Event) { deleted++ })

	sess := st.GetOrCreate("webchat", "conv", "user")
	st.AddMessage(sess.Key, RoleUser, "hi")
	st.Delete(sess.Key)

	if created != 1 || updated != 1 || deleted != 1 {
		t.Errorf("events (created, updated, deleted) = (%d, %d, %d), want (1, 1, 1)",
			created, updated, deleted)
	}
}

func TestCompact(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)
	sess := st.GetOrCreate("webchat", "conv", "user")

	for i := 0; i < 25; i++ {
		sess.AddMessage(RoleUser, fmt.Sprintf("msg-%d", i))
	}

	st.Compact(context.Background(), sess.Key, func(_ context.Context, dropped []Message) (string, error) {
		if len(dropped) != 15 {
			t.Errorf("dropped length = %d, want 15", len(dropped))
		}
		return "they talked about the weather", nil
	})

	history := sess.History()
	if len(history) != 11 {
		t.Fatalf("history after compact = %d messages, want 11", len(history))
	}
	if history[0].Role != RoleSystem {
		t.Errorf("first message role = %q, want system", history[0].Role)
	}
	want := "Summary of earlier conversation: they talked about the weather"
	if history[0].Content != want {
		t.Errorf("summary message = %q, want %q", history[0].Content, want)
	}
	if history[1].Content != "msg-15" || history[10].Content != "msg-24" {
		t.Errorf("recent window = [%q .. %q], want [msg-15 .. msg-24]",
			history[1].Content, history[10].Content)
	}
}

func TestCompactShortSessionUntouched(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)
	sess := st.GetOrCreate("webchat", "conv", "user")
	for i := 0; i < 10; i++ {
		sess.AddMessage(RoleUser, fmt.Sprintf("msg-%d", i))
	}

	st.Compact(context.Background(), sess.Key, func(context.Context, []Message) (string, error) {
		t.Error("summarizer called for a short session")
		return "", nil
	})

	if n := sess.MessageCount(); n != 10 {
		t.Errorf("MessageCount = %d, want 10", n)
	}
}

func TestCompactSummarizerFailureLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)
	sess := st.GetOrCreate("webchat", "conv", "user")
	for i := 0; i < 25; i++ {
		sess.AddMessage(RoleUser, fmt.Sprintf("msg-%d", i))
	}

	st.Compact(context.Background(), sess.Key, func(context.Context, []Message) (string, error) {
		return "", errors.New("summarizer down")
	})

	if n := sess.MessageCount(); n != 25 {
		t.Errorf("MessageCount after failed compact = %d, want 25", n)
	}
}

func TestCleanupRemovesStaleSessions(t *testing.T) {
	t.Parallel()
	st := newTestStore(0)

	base := time.Now()
	current := base
	st.now = func() time.Time { return current }

	stale := st.GetOrCreate("webchat", "stale", "user")
	current = base.Add(25 * time.Hour)
	fresh := st.GetOrCreate("webchat", "fresh", "user")

	removed := st.Cleanup()
	if removed != 1 {
		t.Fatalf("Cleanup removed %d sessions, want 1", removed)
	}
	if st.Get(stale.Key) != nil {
		t.Error("stale session survived cleanup")
	}
	if st.Get(fresh.Key) == nil {
		t.Error("fresh session was removed")
	}
}
