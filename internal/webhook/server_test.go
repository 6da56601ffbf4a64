package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"news_dispatch/internal/session"
	"news_dispatch/internal/yandex"
)

type recordingQueue struct {
	mu       sync.Mutex
	accepted []int64
	full     bool
}

func (q *recordingQueue) Submit(u yandex.Update) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.accepted = append(q.accepted, u.UpdateID)
	return true
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcknowledges(t *testing.T) {
	tests := []struct {
		name string
		body string
		full bool
		want []int64
	}{
		{
			name: "envelope",
			body: `{"updates":[{"update_id":1,"text":"/start","from":{"login":"a@x.com"},"chat":{"type":"private"}},{"update_id":2,"text":"/help","from":{"login":"a@x.com"},"chat":{"type":"private"}}]}`,
			want: []int64{1, 2},
		},
		{
			name: "single message",
			body: `{"update_id":3,"text":"/help","from":{"login":"a@x.com"},"chat":{"type":"private"}}`,
			want: []int64{3},
		},
		{
			name: "duplicate in one body",
			body: `{"updates":[{"update_id":4,"from":{"login":"a@x.com"}},{"update_id":4,"from":{"login":"a@x.com"}}]}`,
			want: []int64{4, 4},
		},
		{name: "invalid body", body: `{{{`},
		{name: "empty body", body: ``},
		{
			name: "queue full",
			body: `{"update_id":5,"from":{"login":"a@x.com"}}`,
			full: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &recordingQueue{full: tt.full}
			h := NewRouter(NewHandler(q, testLogger()), pinger{}, testLogger())

			rec := post(t, h, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if diff := cmp.Diff(`{"ok":true}`, rec.Body.String()); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, q.accepted); diff != "" {
				t.Errorf("accepted mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func next(t *testing.T, processed <-chan int64) int64 {
	t.Helper()
	select {
	case id := <-processed:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("no update processed")
		return 0
	}
}

func TestWebhookDeduplicatesAcrossRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := make(chan int64, 8)
	q := NewQueue(8, 1, session.NewMemoryDeduper(time.Hour, 0), func(_ context.Context, u yandex.Update) error {
		processed <- u.UpdateID
		return nil
	}, testLogger())
	h := NewRouter(NewHandler(q, testLogger()), pinger{}, testLogger())
	body := `{"update_id":9,"text":"/start","from":{"login":"a@x.com"},"chat":{"type":"private"}}`

	post(t, h, body)
	post(t, h, body)
	post(t, h, strings.Replace(body, `"update_id":9`, `"update_id":10`, 1))
	go q.Run(ctx)

	var got []int64
	for len(got) < 2 {
		got = append(got, next(t, processed))
	}
	if diff := cmp.Diff([]int64{9, 10}, got); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
}

func TestDroppedUpdateIsProcessedOnRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := make(chan int64, 8)
	q := NewQueue(1, 1, session.NewMemoryDeduper(time.Hour, 0), func(_ context.Context, u yandex.Update) error {
		processed <- u.UpdateID
		return nil
	}, testLogger())

	if !q.Submit(yandex.Update{UpdateID: 1}) {
		t.Fatal("submit 1 rejected")
	}
	if q.Submit(yandex.Update{UpdateID: 2}) {
		t.Fatal("submit 2 accepted by a full queue")
	}
	go q.Run(ctx)
	if id := next(t, processed); id != 1 {
		t.Fatalf("processed %d, want 1", id)
	}

	// The platform redelivers update 2; it was never marked as seen.
	if !q.Submit(yandex.Update{UpdateID: 2}) {
		t.Fatal("redelivered update 2 rejected")
	}
	if id := next(t, processed); id != 2 {
		t.Fatalf("processed %d, want 2", id)
	}

	// A processed update stays skipped: the next one handled is 3.
	if !q.Submit(yandex.Update{UpdateID: 1}) {
		t.Fatal("resubmit 1 rejected")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !q.Submit(yandex.Update{UpdateID: 3}) {
		if time.Now().After(deadline) {
			t.Fatal("queue never drained")
		}
		time.Sleep(time.Millisecond)
	}
	if id := next(t, processed); id != 3 {
		t.Errorf("processed %d, want 3", id)
	}
}

func TestLivenessAndHealth(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		ping     error
		wantCode int
		wantBody string
	}{
		{name: "webhook probe", path: "/webhook", wantCode: http.StatusOK, wantBody: "OK"},
		{name: "healthy", path: "/health", wantCode: http.StatusOK, wantBody: "{\"status\":\"ok\"}\n"},
		{name: "store down", path: "/health", ping: errors.New("closed"), wantCode: http.StatusServiceUnavailable, wantBody: "{\"status\":\"unavailable\"}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(NewHandler(&recordingQueue{}, testLogger()), pinger{err: tt.ping}, testLogger())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if diff := cmp.Diff(tt.wantBody, rec.Body.String()); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(NewHandler(&recordingQueue{}, testLogger()), pinger{}, testLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	warm, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = warm.Body.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "news_dispatch_http_requests_total") {
		t.Error("metrics output misses http request counter")
	}
}

// The response is written while the handler of the update is still
// blocked.
func TestAckBeforeProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	done := make(chan int64, 1)
	q := NewQueue(8, 1, nil, func(_ context.Context, u yandex.Update) error {
		<-release
		done <- u.UpdateID
		return nil
	}, testLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx)
	}()

	h := NewRouter(NewHandler(q, testLogger()), pinger{}, testLogger())
	rec := post(t, h, `{"update_id":1,"text":"/start","from":{"login":"a@x.com"},"chat":{"type":"private"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	select {
	case <-done:
		t.Fatal("update processed before the acknowledgment")
	default:
	}

	close(release)
	select {
	case id := <-done:
		if id != 1 {
			t.Errorf("processed update %d, want 1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("update was never processed")
	}

	cancel()
	wg.Wait()
}

func TestQueueSurvivesFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := make(chan int64, 3)
	q := NewQueue(8, 1, nil, func(_ context.Context, u yandex.Update) error {
		switch u.UpdateID {
		case 1:
			panic("boom")
		case 2:
			return errors.New("store down")
		}
		processed <- u.UpdateID
		return nil
	}, testLogger())

	for id := int64(1); id <= 3; id++ {
		if !q.Submit(yandex.Update{UpdateID: id}) {
			t.Fatalf("submit %d rejected", id)
		}
	}
	go q.Run(ctx)

	select {
	case id := <-processed:
		if id != 3 {
			t.Errorf("processed %d, want 3", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker stopped after a failing update")
	}
}

func TestQueueBounded(t *testing.T) {
	q := NewQueue(2, 1, nil, func(context.Context, yandex.Update) error { return nil }, testLogger())

	var got []bool
	for id := int64(1); id <= 3; id++ {
		got = append(got, q.Submit(yandex.Update{UpdateID: id}))
	}
	if diff := cmp.Diff([]bool{true, true, false}, got); diff != "" {
		t.Errorf("submit results mismatch (-want +got):\n%s", diff)
	}
}
