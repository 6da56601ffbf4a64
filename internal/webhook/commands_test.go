package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"news_dispatch/internal/model"
	"news_dispatch/internal/storage"
	"news_dispatch/internal/yandex"
)

type reply struct {
	To   string
	Text string
}

type mockReplier struct {
	mu      sync.Mutex
	replies []reply
	err     error
}

func (m *mockReplier) Deliver(_ context.Context, recipient, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, reply{To: recipient, Text: text})
	return m.err
}

func (m *mockReplier) all() []reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]reply(nil), m.replies...)
}

func (m *mockReplier) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) (*CommandRouter, *mockReplier, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	replies := &mockReplier{}
	return NewCommandRouter(store, replies, nil, testLogger()), replies, store
}

func private(login, text string) yandex.Update {
	return yandex.Update{
		UpdateID: 1,
		Text:     text,
		From:     yandex.User{Login: login},
		Chat:     yandex.Chat{Type: yandex.ChatPrivate},
	}
}

// linkPair registers Telegram user 42 and links it to login.
func linkPair(t *testing.T, store *storage.SQLite, login string) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertSubscriber(ctx, &model.Subscriber{Channel: model.ChannelTelegram, ExternalID: "42", ChatID: 42}); err != nil {
		t.Fatalf("seed telegram: %v", err)
	}
	if err := store.UpsertSubscriber(ctx, &model.Subscriber{Channel: model.ChannelYandex, ExternalID: login}); err != nil {
		t.Fatalf("seed yandex: %v", err)
	}
	ok, err := store.Link(ctx, "42", login)
	if err != nil || !ok {
		t.Fatalf("link: %v, %v", ok, err)
	}
}

func TestStartWithoutLink(t *testing.T) {
	ctx := context.Background()
	r, replies, store := newTestRouter(t)

	if err := r.Handle(ctx, private("a@x.com", "/start")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	active, err := store.IsActive(ctx, model.ChannelYandex, "a@x.com")
	if err != nil {
		t.Fatalf("is active: %v", err)
	}
	if !active {
		t.Error("new subscriber is not active")
	}

	want := []reply{{To: "a@x.com", Text: fmt.Sprintf(textLinkRequired, "a@x.com")}}
	if diff := cmp.Diff(want, replies.all()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestStartWithLinkReactivates(t *testing.T) {
	ctx := context.Background()
	r, replies, store := newTestRouter(t)
	linkPair(t, store, "a@x.com")
	if _, err := store.SetActive(ctx, model.ChannelYandex, "a@x.com", false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	if err := r.Handle(ctx, private("a@x.com", "/start")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	active, _ := store.IsActive(ctx, model.ChannelYandex, "a@x.com")
	if !active {
		t.Error("/start did not reactivate a linked subscriber")
	}
	if diff := cmp.Diff([]reply{{To: "a@x.com", Text: textWelcome}}, replies.all()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestCommandsKeepExistingState(t *testing.T) {
	ctx := context.Background()
	r, _, store := newTestRouter(t)
	linkPair(t, store, "a@x.com")
	if _, err := store.SetActive(ctx, model.ChannelYandex, "a@x.com", false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	for _, text := range []string{"/help", "/status", "hello"} {
		if err := r.Handle(ctx, private("a@x.com", text)); err != nil {
			t.Fatalf("handle %q: %v", text, err)
		}
	}
	if active, _ := store.IsActive(ctx, model.ChannelYandex, "a@x.com"); active {
		t.Error("command reset the subscription flag")
	}
}

func TestCommandsRequireLink(t *testing.T) {
	texts := []string{
		"/link",
		"/subscribe_tg",
		"/unsubscribe_tg",
		"/subscribe_yx",
		"/unsubscribe_yx",
		"/status",
		yandex.CaptionUnsubscribeYandex,
	}

	for _, text := range texts {
		t.Run(text, func(t *testing.T) {
			ctx := context.Background()
			r, replies, store := newTestRouter(t)

			if err := r.Handle(ctx, private("b@x.com", text)); err != nil {
				t.Fatalf("handle: %v", err)
			}
			want := []reply{{To: "b@x.com", Text: fmt.Sprintf(textLinkRequired, "b@x.com")}}
			if diff := cmp.Diff(want, replies.all()); diff != "" {
				t.Errorf("replies mismatch (-want +got):\n%s", diff)
			}
			if active, _ := store.IsActive(ctx, model.ChannelYandex, "b@x.com"); !active {
				t.Error("unlinked command changed the subscription")
			}
		})
	}
}

func TestLinkedCommands(t *testing.T) {
	ctx := context.Background()
	r, replies, store := newTestRouter(t)
	linkPair(t, store, "a@x.com")

	steps := []struct {
		text      string
		wantReply string
		wantTG    bool
		wantYX    bool
	}{
		{text: "/unsubscribe_tg", wantReply: textUnsubscribedTG, wantTG: false, wantYX: true},
		{text: "/unsubscribe_tg", wantReply: textUnsubscribedTG, wantTG: false, wantYX: true},
		{text: yandex.CaptionUnsubscribeYandex, wantReply: textUnsubscribedYX, wantTG: false, wantYX: false},
		{text: "/status", wantReply: FormatStatus(false, false), wantTG: false, wantYX: false},
		{text: yandex.CaptionSubscribeTelegram, wantReply: textSubscribedTG, wantTG: true, wantYX: false},
		{text: "/subscribe_yx", wantReply: textSubscribedYX, wantTG: true, wantYX: true},
		{text: yandex.CaptionStatus, wantReply: FormatStatus(true, true), wantTG: true, wantYX: true},
		{text: "/link", wantReply: textAlreadyLinked, wantTG: true, wantYX: true},
	}

	for _, st := range steps {
		replies.reset()
		if err := r.Handle(ctx, private("a@x.com", st.text)); err != nil {
			t.Fatalf("handle %q: %v", st.text, err)
		}
		if diff := cmp.Diff([]reply{{To: "a@x.com", Text: st.wantReply}}, replies.all()); diff != "" {
			t.Errorf("%q replies mismatch (-want +got):\n%s", st.text, diff)
		}
		tg, _ := store.IsActive(ctx, model.ChannelTelegram, "42")
		yx, _ := store.IsActive(ctx, model.ChannelYandex, "a@x.com")
		if tg != st.wantTG || yx != st.wantYX {
			t.Errorf("after %q telegram=%v messenger=%v, want %v %v", st.text, tg, yx, st.wantTG, st.wantYX)
		}
	}
}

// vanishingRegistry loses every subscriber right before the flag update.
type vanishingRegistry struct {
	*storage.SQLite
}

func (vanishingRegistry) SetActive(context.Context, model.Channel, string, bool) (bool, error) {
	return false, nil
}

func TestSetActiveOnMissingSubscriber(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	linkPair(t, store, "a@x.com")

	replies := &mockReplier{}
	r := NewCommandRouter(vanishingRegistry{store}, replies, nil, testLogger())

	for _, text := range []string{"/subscribe_tg", "/unsubscribe_tg", "/subscribe_yx", "/unsubscribe_yx"} {
		replies.reset()
		if err := r.Handle(ctx, private("a@x.com", text)); err != nil {
			t.Fatalf("handle %q: %v", text, err)
		}
		if diff := cmp.Diff([]reply{{To: "a@x.com", Text: textNotRegistered}}, replies.all()); diff != "" {
			t.Errorf("%q replies mismatch (-want +got):\n%s", text, diff)
		}
	}
}

func TestUnknownTextGetsHelp(t *testing.T) {
	for _, text := range []string{"hello", "/START", "", "/help"} {
		t.Run(text, func(t *testing.T) {
			r, replies, _ := newTestRouter(t)
			if err := r.Handle(context.Background(), private("c@x.com", text)); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if diff := cmp.Diff([]reply{{To: "c@x.com", Text: textHelp}}, replies.all()); diff != "" {
				t.Errorf("replies mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleErrors(t *testing.T) {
	r, replies, _ := newTestRouter(t)
	ctx := context.Background()

	if err := r.Handle(ctx, yandex.Update{Text: "/start"}); !errors.Is(err, model.ErrContent) {
		t.Errorf("missing login error = %v, want content error", err)
	}

	replies.err = errors.New("send failed")
	if err := r.Handle(ctx, private("d@x.com", "/help")); err == nil {
		t.Error("expected error when the reply cannot be delivered")
	}
}

func TestRobotAndChannelUpdatesIgnored(t *testing.T) {
	ctx := context.Background()
	r, replies, store := newTestRouter(t)

	robot := private("bot@x.com", "/start")
	robot.From.Robot = true
	channel := private("e@x.com", "/start")
	channel.Chat.Type = yandex.ChatChannel

	for _, u := range []yandex.Update{robot, channel} {
		if err := r.Handle(ctx, u); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if n := len(replies.all()); n != 0 {
		t.Errorf("got %d replies, want 0", n)
	}
	if ok, _ := store.Exists(ctx, model.ChannelYandex, "e@x.com"); ok {
		t.Error("channel post registered a subscriber")
	}
}
