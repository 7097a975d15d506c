package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zapscan/zapscan/internal/notify"
	"github.com/zapscan/zapscan/internal/testutil"
)

func TestSend_PostsTextPayload(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("payload not JSON: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := notify.New(srv.URL, &testutil.DummyLogger{})
	n.Send(context.Background(), "Scan de https://example.com concluído")

	if got["text"] != "Scan de https://example.com concluído" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSend_EmptyURLIsDisabled(t *testing.T) {
	t.Parallel()

	n := notify.New("", &testutil.DummyLogger{})
	if n.Enabled() {
		t.Fatal("expected notifier to be disabled")
	}
	// Must be a silent no-op.
	n.Send(context.Background(), "dropped")
}

func TestSend_ServerErrorIsLoggedNotFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logger := &testutil.DummyLogger{}
	n := notify.New(srv.URL, logger)
	n.Send(context.Background(), "msg")

	if len(logger.Errors) == 0 {
		t.Fatal("expected delivery failure to be logged")
	}
}
