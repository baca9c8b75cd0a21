package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func capturePush(t *testing.T, status int) (*Client, *PushRequest) {
	t.Helper()
	got := &PushRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, got
}

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("  ", nil); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	c, got := capturePush(t, http.StatusNoContent)
	raw := []byte(`{"event_type":"request_rejected","source":"edge","reason":"origin","user_id":3,"created_at":"2026-03-01T12:00:00.5Z"}`)
	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d", len(got.Streams))
	}
	s := got.Streams[0]
	want := map[string]string{"job": JobLabel, "event_type": "request_rejected", "source": "edge", "reason": "origin"}
	for k, v := range want {
		if s.Stream[k] != v {
			t.Errorf("label %q = %q, want %q", k, s.Stream[k], v)
		}
	}
	if _, ok := s.Stream["user_id"]; ok {
		t.Error("user_id must not become a label")
	}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC).UnixNano()
	if len(s.Values) != 1 || s.Values[0][0] != jsonInt(ts) || s.Values[0][1] != string(raw) {
		t.Errorf("values = %v", s.Values)
	}
}

func TestPushEventJSON_InvalidJSONPushesRawLine(t *testing.T) {
	c, got := capturePush(t, http.StatusNoContent)
	if err := c.PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := got.Streams[0]
	if len(s.Stream) != 1 || s.Stream["job"] != JobLabel {
		t.Errorf("labels = %v, want only job", s.Stream)
	}
	if s.Values[0][1] != "not json" {
		t.Errorf("line = %q", s.Values[0][1])
	}
}

func TestPush_SanitizesLabelValues(t *testing.T) {
	c, got := capturePush(t, http.StatusNoContent)
	err := c.Push(context.Background(), time.Now(), "line", map[string]string{"reason": " bad value/x ", "empty": "  "})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	s := got.Streams[0]
	if s.Stream["reason"] != "bad_value_x" {
		t.Errorf("reason = %q", s.Stream["reason"])
	}
	if _, ok := s.Stream["empty"]; ok {
		t.Error("empty label should be dropped")
	}
}

func TestPush_Non2xxIsError(t *testing.T) {
	c, _ := capturePush(t, http.StatusBadRequest)
	if err := c.Push(context.Background(), time.Now(), "line", nil); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
