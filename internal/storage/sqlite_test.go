package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"news_dispatch/internal/model"
)

var ignoreCreatedAt = cmpopts.IgnoreFields(model.Subscriber{}, "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWatermarkInit(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if _, ok, err := s.GetLastID(ctx, "hr_portal"); err != nil || ok {
		t.Fatalf("GetLastID before init = ok %v, err %v", ok, err)
	}

	if err := s.InitWatermark(ctx, "hr_portal", "hr_0"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := s.InitWatermark(ctx, "hr_portal", "hr_99"); err != nil {
		t.Fatalf("second init: %v", err)
	}

	got, ok, err := s.GetLastID(ctx, "hr_portal")
	if err != nil || !ok {
		t.Fatalf("GetLastID = ok %v, err %v", ok, err)
	}
	if diff := cmp.Diff("hr_0", got); diff != "" {
		t.Errorf("watermark mismatch (-want +got):\n%s", diff)
	}
}

func TestAdvanceWatermark(t *testing.T) {
	tests := []struct {
		name     string
		newID    string
		expected string
		wantOK   bool
		wantErr  error
		wantLast string
	}{
		{name: "advance", newID: "hr_5", expected: "hr_3", wantOK: true, wantLast: "hr_5"},
		{name: "stale expectation", newID: "hr_9", expected: "hr_1", wantOK: false, wantLast: "hr_3"},
		{name: "equal id rejected", newID: "hr_3", expected: "hr_3", wantErr: ErrNotMonotonic, wantLast: "hr_3"},
		{name: "regression rejected", newID: "hr_2", expected: "hr_3", wantErr: ErrNotMonotonic, wantLast: "hr_3"},
		{name: "numeric not lexical", newID: "hr_10", expected: "hr_3", wantOK: true, wantLast: "hr_10"},
		{name: "malformed id", newID: "hr_x", expected: "hr_3", wantErr: model.ErrContent, wantLast: "hr_3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestDB(t)
			if err := s.InitWatermark(ctx, "hr_portal", "hr_3"); err != nil {
				t.Fatalf("init: %v", err)
			}

			ok, err := s.AdvanceWatermark(ctx, "hr_portal", tt.newID, tt.expected)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}

			last, _, err := s.GetLastID(ctx, "hr_portal")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(tt.wantLast, last); diff != "" {
				t.Errorf("watermark mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAdvanceWatermarkSingleWinner(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cas.db"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitWatermark(ctx, "hr_portal", "hr_0"); err != nil {
		t.Fatalf("init: %v", err)
	}

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 1; i <= racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("hr_%d", n)
			ok, err := s.AdvanceWatermark(ctx, "hr_portal", id, "hr_0")
			if err != nil {
				t.Errorf("advance %s: %v", id, err)
				return
			}
			if ok {
				mu.Lock()
				wins = append(wins, id)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("winners = %v, want exactly one", wins)
	}
	last, _, err := s.GetLastID(ctx, "hr_portal")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(wins[0], last); diff != "" {
		t.Errorf("watermark mismatch (-want +got):\n%s", diff)
	}
}

func TestWatermarkSourcesIndependent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for src, id := range map[string]string{"hr_portal": "hr_0", "rss": "rss_0"} {
		if err := s.InitWatermark(ctx, src, id); err != nil {
			t.Fatalf("init %s: %v", src, err)
		}
	}
	if ok, err := s.AdvanceWatermark(ctx, "rss", "rss_4", "rss_0"); err != nil || !ok {
		t.Fatalf("advance rss = %v, %v", ok, err)
	}

	got, _, err := s.GetLastID(ctx, "hr_portal")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff("hr_0", got); diff != "" {
		t.Errorf("hr watermark mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriberUpsert(t *testing.T) {
	tests := []struct {
		name string
		sub  model.Subscriber
	}{
		{
			name: "telegram",
			sub: model.Subscriber{
				Channel:     model.ChannelTelegram,
				ExternalID:  "100",
				ChatID:      500,
				DisplayName: "alice",
			},
		},
		{
			name: "yandex",
			sub: model.Subscriber{
				Channel:     model.ChannelYandex,
				ExternalID:  "bob@example.com",
				DisplayName: "bob@example.com",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestDB(t)

			sub := tt.sub
			if err := s.UpsertSubscriber(ctx, &sub); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if _, err := s.SetActive(ctx, sub.Channel, sub.ExternalID, false); err != nil {
				t.Fatalf("set inactive: %v", err)
			}
			// Upserting again reactivates.
			if err := s.UpsertSubscriber(ctx, &sub); err != nil {
				t.Fatalf("second upsert: %v", err)
			}

			got, err := s.GetSubscriber(ctx, sub.Channel, sub.ExternalID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			want := tt.sub
			want.IsActive = true
			if diff := cmp.Diff(want, *got, ignoreCreatedAt); diff != "" {
				t.Errorf("GetSubscriber mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnsureSubscriberKeepsState(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	sub := &model.Subscriber{Channel: model.ChannelYandex, ExternalID: "bob"}

	created, err := s.EnsureSubscriber(ctx, sub)
	if err != nil || !created {
		t.Fatalf("first ensure = %v, %v", created, err)
	}
	if _, err := s.SetActive(ctx, model.ChannelYandex, "bob", false); err != nil {
		t.Fatalf("set inactive: %v", err)
	}

	created, err = s.EnsureSubscriber(ctx, sub)
	if err != nil || created {
		t.Fatalf("second ensure = %v, %v", created, err)
	}
	active, err := s.IsActive(ctx, model.ChannelYandex, "bob")
	if err != nil {
		t.Fatalf("is active: %v", err)
	}
	if active {
		t.Error("EnsureSubscriber reactivated an existing subscriber")
	}
}

func TestTelegramChatIDConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	if err := s.UpsertSubscriber(ctx, &model.Subscriber{Channel: model.ChannelTelegram, ExternalID: "1", ChatID: 10}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A second user claiming the same chat must be reported, not dropped.
	other := &model.Subscriber{Channel: model.ChannelTelegram, ExternalID: "2", ChatID: 10}
	created, err := s.EnsureSubscriber(ctx, other)
	if !errors.Is(err, model.ErrPersistence) {
		t.Errorf("EnsureSubscriber() error = %v, want ErrPersistence", err)
	}
	if created {
		t.Error("EnsureSubscriber() reported a created row")
	}
	if err := s.UpsertSubscriber(ctx, other); !errors.Is(err, model.ErrPersistence) {
		t.Errorf("UpsertSubscriber() error = %v, want ErrPersistence", err)
	}
	if _, err := s.GetSubscriber(ctx, model.ChannelTelegram, "2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSubscriber() error = %v, want ErrNotFound", err)
	}

	// The owner of the chat is still a no-op.
	created, err = s.EnsureSubscriber(ctx, &model.Subscriber{Channel: model.ChannelTelegram, ExternalID: "1", ChatID: 10})
	if err != nil || created {
		t.Errorf("EnsureSubscriber() for existing user = %v, %v", created, err)
	}
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	if err := s.UpsertSubscriber(ctx, &model.Subscriber{Channel: model.ChannelTelegram, ExternalID: "1", ChatID: 10}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	steps := []struct {
		name       string
		externalID string
		active     bool
		wantExists bool
		wantActive bool
	}{
		{name: "unsubscribe", externalID: "1", active: false, wantExists: true, wantActive: false},
		{name: "unsubscribe again", externalID: "1", active: false, wantExists: true, wantActive: false},
		{name: "subscribe", externalID: "1", active: true, wantExists: true, wantActive: true},
		{name: "subscribe again", externalID: "1", active: true, wantExists: true, wantActive: true},
		{name: "unknown subscriber", externalID: "2", active: true, wantExists: false, wantActive: false},
	}

	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			exists, err := s.SetActive(ctx, model.ChannelTelegram, st.externalID, st.active)
			if err != nil {
				t.Fatalf("set active: %v", err)
			}
			if exists != st.wantExists {
				t.Errorf("exists = %v, want %v", exists, st.wantExists)
			}
			active, err := s.IsActive(ctx, model.ChannelTelegram, st.externalID)
			if err != nil {
				t.Fatalf("is active: %v", err)
			}
			if active != st.wantActive {
				t.Errorf("active = %v, want %v", active, st.wantActive)
			}
		})
	}
}

func TestActiveRecipients(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	subs := []model.Subscriber{
		{Channel: model.ChannelTelegram, ExternalID: "1", ChatID: 101},
		{Channel: model.ChannelTelegram, ExternalID: "2", ChatID: 102},
		{Channel: model.ChannelTelegram, ExternalID: "3", ChatID: 103},
		{Channel: model.ChannelYandex, ExternalID: "a@example.com"},
		{Channel: model.ChannelYandex, ExternalID: "b@example.com"},
	}
	for i := range subs {
		if err := s.UpsertSubscriber(ctx, &subs[i]); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if _, err := s.SetActive(ctx, model.ChannelTelegram, "2", false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if _, err := s.SetActive(ctx, model.ChannelYandex, "a@example.com", false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	tests := []struct {
		ch   model.Channel
		want []string
	}{
		{ch: model.ChannelTelegram, want: []string{"101", "103"}},
		{ch: model.ChannelYandex, want: []string{"b@example.com"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.ch), func(t *testing.T) {
			got, err := s.ActiveRecipients(ctx, tt.ch)
			if err != nil {
				t.Fatalf("recipients: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ActiveRecipients mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLink(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.UpsertSubscriber(ctx, &model.Subscriber{Channel: model.ChannelTelegram, ExternalID: "42", ChatID: 42}); err != nil {
		t.Fatalf("upsert tg: %v", err)
	}

	ok, err := s.Link(ctx, "42", "ghost@example.com")
	if err != nil {
		t.Fatalf("link unknown: %v", err)
	}
	if ok {
		t.Fatal("Link succeeded for an unregistered login")
	}
	links, err := s.ListLinks(ctx, "42")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("links after failed link = %v", links)
	}

	if err := s.UpsertSubscriber(ctx, &model.Subscriber{Channel: model.ChannelYandex, ExternalID: "bob@example.com"}); err != nil {
		t.Fatalf("upsert yx: %v", err)
	}
	for i := 0; i < 2; i++ {
		ok, err := s.Link(ctx, "42", "bob@example.com")
		if err != nil || !ok {
			t.Fatalf("link attempt %d = %v, %v", i, ok, err)
		}
	}

	links, err = s.ListLinks(ctx, "42")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []model.IdentityLink{{TelegramID: "42", YandexID: "bob@example.com"}}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Errorf("ListLinks mismatch (-want +got):\n%s", diff)
	}

	tg, found, err := s.LinkedCounterpart(ctx, "bob@example.com")
	if err != nil || !found {
		t.Fatalf("counterpart = %v, %v", found, err)
	}
	if diff := cmp.Diff("42", tg); diff != "" {
		t.Errorf("LinkedCounterpart mismatch (-want +got):\n%s", diff)
	}

	if _, found, err := s.LinkedCounterpart(ctx, "nobody@example.com"); err != nil || found {
		t.Errorf("counterpart of unlinked login = %v, %v", found, err)
	}
}

func TestUpsertKeepsLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tg := &model.Subscriber{Channel: model.ChannelTelegram, ExternalID: "7", ChatID: 70}
	yx := &model.Subscriber{Channel: model.ChannelYandex, ExternalID: "carol"}
	for _, sub := range []*model.Subscriber{tg, yx} {
		if err := s.UpsertSubscriber(ctx, sub); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if ok, err := s.Link(ctx, "7", "carol"); err != nil || !ok {
		t.Fatalf("link = %v, %v", ok, err)
	}

	tg.ChatID = 71
	if err := s.UpsertSubscriber(ctx, tg); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	if _, found, err := s.LinkedCounterpart(ctx, "carol"); err != nil || !found {
		t.Errorf("link lost after upsert: found %v, err %v", found, err)
	}
}

func TestInvalidTelegramID(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if _, err := s.SetActive(ctx, model.ChannelTelegram, "not-a-number", true); err == nil {
		t.Error("expected error for non-numeric telegram id")
	}
	if _, err := s.GetSubscriber(ctx, model.ChannelTelegram, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSubscriber error = %v, want ErrNotFound", err)
	}
}
