package webhooks_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/filewarden/internal/webhooks"
	"go.uber.org/zap"
)

type receiver struct {
	mu     sync.Mutex
	events []webhooks.Event
	sigs   []string
	bodies [][]byte
}

func (r *receiver) handler(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	var ev webhooks.Event
	_ = json.Unmarshal(body, &ev)
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.sigs = append(r.sigs, req.Header.Get(webhooks.SignatureHeader))
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func wait(t *testing.T, svc *webhooks.Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("deliveries did not finish: %v", err)
	}
}

func TestDispatch_signedDelivery(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer srv.Close()

	svc := webhooks.NewService([]webhooks.Subscription{{URL: srv.URL, Secret: "s3cret"}}, zap.NewNop())
	svc.Dispatch(context.Background(), webhooks.EventFileTampered, map[string]string{"path": "notes.txt", "outcome": "restored"})
	wait(t, svc)

	if len(rcv.events) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rcv.events))
	}
	ev := rcv.events[0]
	if ev.Type != webhooks.EventFileTampered || ev.Payload["path"] != "notes.txt" || ev.ID == "" {
		t.Errorf("unexpected event %+v", ev)
	}
	if !webhooks.Verify(rcv.bodies[0], "s3cret", rcv.sigs[0]) {
		t.Errorf("signature %q does not verify", rcv.sigs[0])
	}
	if webhooks.Verify(rcv.bodies[0], "other", rcv.sigs[0]) {
		t.Error("signature must not verify with another secret")
	}
}

func TestDispatch_filtersByEvent(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer srv.Close()

	svc := webhooks.NewService([]webhooks.Subscription{
		{URL: srv.URL, Events: []string{webhooks.EventEditCompleted}},
		{URL: ""}, // dropped
	}, zap.NewNop())
	svc.Dispatch(context.Background(), webhooks.EventFileTampered, nil)
	svc.Dispatch(context.Background(), webhooks.EventEditCompleted, nil)
	wait(t, svc)

	if len(rcv.events) != 1 || rcv.events[0].Type != webhooks.EventEditCompleted {
		t.Errorf("unexpected deliveries %+v", rcv.events)
	}
	if rcv.sigs[0] != "" {
		t.Errorf("unsigned subscription sent signature %q", rcv.sigs[0])
	}
}

func TestDispatch_retriesFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var outcomes []bool
	svc := webhooks.NewService([]webhooks.Subscription{{URL: srv.URL}}, zap.NewNop())
	svc.SetRetryDelays([]time.Duration{0, time.Millisecond, time.Millisecond})
	svc.SetMetricsRecorder(func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, ok)
	})

	svc.Dispatch(context.Background(), webhooks.EventFileTampered, nil)
	wait(t, svc)

	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if len(outcomes) != 3 || outcomes[0] || outcomes[1] || !outcomes[2] {
		t.Errorf("unexpected outcomes %v", outcomes)
	}
}

func TestDispatch_survivesCallerCancel(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer srv.Close()

	svc := webhooks.NewService([]webhooks.Subscription{{URL: srv.URL}}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Dispatch(ctx, webhooks.EventEditAbandoned, nil)
	wait(t, svc)

	if len(rcv.events) != 1 {
		t.Errorf("expected delivery despite cancelled caller context, got %d", len(rcv.events))
	}
}
