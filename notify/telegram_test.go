package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTelegramNotify(t *testing.T) {
	received := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("test-token", "42", zaptest.NewLogger(t))
	tg.baseURL = srv.URL
	tg.Notify("profit alert")

	select {
	case body := <-received:
		assert.Equal(t, "42", body["chat_id"])
		assert.Equal(t, "profit alert", body["text"])
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestTelegramFailureIsSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegram("test-token", "42", zaptest.NewLogger(t))
	tg.baseURL = srv.URL

	// Must not panic or block the caller.
	tg.Notify("dropped")
	time.Sleep(100 * time.Millisecond)
}

func TestNop(t *testing.T) {
	Nop{}.Notify("nothing happens")
}
