package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"jobalert/internal/model"
	"jobalert/internal/storage"
)

const opsChat = 100

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
}

type mockAPI struct {
	mu      sync.Mutex
	sent    []sentMsg
	updates tgbotapi.UpdatesChannel
	stopped bool
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if m.updates == nil {
		m.updates = make(tgbotapi.UpdatesChannel)
	}
	return m.updates
}

func (m *mockAPI) StopReceivingUpdates() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) allSent() []sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMsg(nil), m.sent...)
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockChecker struct {
	result  model.AlertResult
	err     error
	report  *model.PassReport
	checked []int64
}

func (m *mockChecker) CheckAlert(_ context.Context, id int64) (model.AlertResult, error) {
	m.checked = append(m.checked, id)
	if m.err != nil {
		return model.AlertResult{}, m.err
	}
	res := m.result
	res.AlertID = id
	return res, nil
}

func (m *mockChecker) LastReport() (model.PassReport, bool) {
	if m.report == nil {
		return model.PassReport{}, false
	}
	return *m.report, true
}

// --- helpers ---

func newTestBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	b := &Bot{
		api:    api,
		store:  store,
		chatID: opsChat,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    func() time.Time { return testNow },
	}
	return b, api, store
}

func seedUser(t *testing.T, store *storage.SQLite, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "x"}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedAlert(t *testing.T, store *storage.SQLite, userID int64, query string, active bool) *model.Alert {
	t.Helper()
	a := &model.Alert{
		UserID: userID, Query: query, Location: "Amsterdam", Frequency: model.FrequencyWeekly,
		LastCheckedAt: testNow.Add(-3 * time.Hour), IsActive: active,
	}
	if err := store.CreateAlert(context.Background(), a); err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	return a
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func commandMsg(chatID int64, cmd, args string) *tgbotapi.Message {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
		},
	}
}

// --- handler tests ---

func TestHandleStartAndHelp(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleStart(opsChat)
	requireContains(t, api.lastText(), "operator console")

	b.handleHelp(opsChat)
	for _, cmd := range []string{"/status", "/users", "/alerts", "/info", "/pause", "/resume", "/check"} {
		requireContains(t, api.lastText(), cmd)
	}
}

func TestHandleStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("before first pass", func(t *testing.T) {
		b, api, store := newTestBot(t)
		u := seedUser(t, store, "dev@example.com")
		seedAlert(t, store, u.ID, "python", true)
		seedAlert(t, store, u.ID, "golang", false)
		b.SetChecker(&mockChecker{})

		b.handleStatus(ctx, opsChat)
		requireContains(t, api.lastText(), "1 users, 1 active alerts")
		requireContains(t, api.lastText(), "No pass has finished yet")
	})

	t.Run("with report", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.SetChecker(&mockChecker{report: &model.PassReport{
			StartedAt:  testNow,
			FinishedAt: testNow.Add(2 * time.Second),
			Results:    []model.AlertResult{{AlertID: 1, Outcome: model.OutcomeNotified, NewCount: 3}},
		}})

		b.handleStatus(ctx, opsChat)
		requireContains(t, api.lastText(), "1 notified")
	})
}

func TestHandleUsers(t *testing.T) {
	ctx := context.Background()

	b, api, store := newTestBot(t)
	b.handleUsers(ctx, opsChat)
	requireContains(t, api.lastText(), "No users registered")

	seedUser(t, store, "a@example.com")
	seedUser(t, store, "b@example.com")
	b.handleUsers(ctx, opsChat)
	requireContains(t, api.lastText(), "2 users")
	requireContains(t, api.lastText(), "b@example.com")
}

func TestHandleAlerts(t *testing.T) {
	ctx := context.Background()

	t.Run("empty args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleAlerts(ctx, opsChat, "")
		requireContains(t, api.lastText(), "Usage: /alerts")
	})

	t.Run("unknown user", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleAlerts(ctx, opsChat, "nobody@example.com")
		requireContains(t, api.lastText(), "not found")
	})

	t.Run("no alerts", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedUser(t, store, "dev@example.com")
		b.handleAlerts(ctx, opsChat, "dev@example.com")
		requireContains(t, api.lastText(), "has no alerts")
	})

	t.Run("lists alerts", func(t *testing.T) {
		b, api, store := newTestBot(t)
		u := seedUser(t, store, "dev@example.com")
		seedAlert(t, store, u.ID, "python", true)
		seedAlert(t, store, u.ID, "golang", false)

		b.handleAlerts(ctx, opsChat, "DEV@example.com")
		reply := api.lastText()
		requireContains(t, reply, `#1 "python" in Amsterdam (weekly) [active]`)
		requireContains(t, reply, `#2 "golang"`)
		requireContains(t, reply, "[paused]")
		requireContains(t, reply, "checked 3 hours ago")
	})
}

func TestHandleInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleInfo(ctx, opsChat, "")
		requireContains(t, api.lastText(), "Usage: /info")
	})

	t.Run("not found", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleInfo(ctx, opsChat, "999")
		requireContains(t, api.lastText(), "Alert #999 not found")
	})

	t.Run("success", func(t *testing.T) {
		b, api, store := newTestBot(t)
		u := seedUser(t, store, "dev@example.com")
		seedAlert(t, store, u.ID, "python", true)

		b.handleInfo(ctx, opsChat, "#1")
		reply := api.lastText()
		requireContains(t, reply, `#1 "python" [active]`)
		requireContains(t, reply, "Owner: dev@example.com")
		requireContains(t, reply, "Frequency: weekly")
	})
}

func TestHandlePauseResume(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleSetActive(ctx, opsChat, "x", false)
		requireContains(t, api.lastText(), "Usage: /pause")
		b.handleSetActive(ctx, opsChat, "", true)
		requireContains(t, api.lastText(), "Usage: /resume")
	})

	t.Run("not found", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleSetActive(ctx, opsChat, "5", false)
		requireContains(t, api.lastText(), "not found")
	})

	t.Run("toggles", func(t *testing.T) {
		b, api, store := newTestBot(t)
		u := seedUser(t, store, "dev@example.com")
		a := seedAlert(t, store, u.ID, "python", true)

		b.handleSetActive(ctx, opsChat, "1", false)
		requireContains(t, api.lastText(), "paused")
		got, _ := store.GetAlert(ctx, a.ID)
		if diff := cmp.Diff(false, got.IsActive); diff != "" {
			t.Errorf("active after pause (-want +got):\n%s", diff)
		}

		b.handleSetActive(ctx, opsChat, "1", true)
		requireContains(t, api.lastText(), "resumed")
		got, _ = store.GetAlert(ctx, a.ID)
		if diff := cmp.Diff(true, got.IsActive); diff != "" {
			t.Errorf("active after resume (-want +got):\n%s", diff)
		}
	})
}

func TestHandleCheck(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		args    string
		checker *mockChecker
		want    string
	}{
		{name: "bad args", args: "", checker: &mockChecker{}, want: "Usage: /check"},
		{name: "no checker", args: "1", want: "not available"},
		{name: "not found", args: "7", checker: &mockChecker{err: fmt.Errorf("get alert: %w", storage.ErrNotFound)}, want: "Alert #7 not found"},
		{name: "busy", args: "7", checker: &mockChecker{err: errors.New("alert check already in progress")}, want: "Check of #7 failed"},
		{name: "notified", args: "7", checker: &mockChecker{result: model.AlertResult{Outcome: model.OutcomeNotified, NewCount: 2}}, want: "#7: 2 new posting(s) mailed"},
		{name: "no new", args: "7", checker: &mockChecker{result: model.AlertResult{Outcome: model.OutcomeNoNew}}, want: "no new postings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, _ := newTestBot(t)
			if tt.checker != nil {
				b.SetChecker(tt.checker)
			}
			b.handleCheck(ctx, opsChat, tt.args)
			requireContains(t, api.lastText(), tt.want)
		})
	}
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)
	b.SetChecker(&mockChecker{})

	cmds := []struct {
		cmd      string
		args     string
		contains string
	}{
		{"start", "", "operator console"},
		{"help", "", "/check"},
		{"status", "", "0 users"},
		{"users", "", "No users"},
		{"alerts", "", "Usage: /alerts"},
		{"info", "", "Usage: /info"},
		{"pause", "", "Usage: /pause"},
		{"resume", "", "Usage: /resume"},
		{"check", "", "Usage: /check"},
		{"add", "https://example.com", "Unknown command"},
	}
	for _, tc := range cmds {
		api.reset()
		b.handleCommand(ctx, commandMsg(opsChat, tc.cmd, tc.args))
		requireContains(t, api.lastText(), tc.contains)
	}
}

func TestHandleUpdateRejectsOtherChats(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	b.handleUpdate(ctx, tgbotapi.Update{Message: commandMsg(555, "status", "")})
	want := []sentMsg{{ChatID: 555, Text: "Access denied."}}
	if diff := cmp.Diff(want, api.allSent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}

	api.reset()
	b.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: opsChat}, Text: "hello"}})
	if len(api.allSent()) != 0 {
		t.Errorf("plain text must be ignored, got %+v", api.allSent())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopped {
		t.Error("StopReceivingUpdates not called")
	}
}
