package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIURL = srv.URL
	require.NoError(t, n.Send("hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestSendWithRetry_StopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIURL = srv.URL
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.SendWithRetry(ctx, "hello", 3)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStartPolling_AnswersOwnChatOnly(t *testing.T) {
	var mu sync.Mutex
	var replies []string
	served := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			replies = append(replies, body["text"])
			return
		}
		if served {
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
			return
		}
		served = true
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":1,"message":{"text":"/status","chat":{"id":42}}},
			{"update_id":2,"message":{"text":"/status","chat":{"id":7}}}]}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "")
	n.APIURL = srv.URL
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.StartPolling(ctx, func(cmd string) string { return "ok " + cmd })
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(replies) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ok /status"}, replies)
}

func TestFormatters(t *testing.T) {
	until := time.Date(2020, 8, 28, 12, 0, 0, 0, time.UTC)
	assert.Contains(t, FormatCooldown("SPX", "rate_limited", until), "2020.08.28 12:00:00")
	assert.Contains(t, FormatFatal(errors.New("disk <full>")), "disk &lt;full&gt;")

	status := FormatStatus([]StatusLine{
		{Symbol: "SPX", Period: "D1", Outcome: "OK", LastBar: until},
		{Symbol: "EURUSD", Period: "W1", Outcome: "COOLDOWN", Cooldown: until},
	}, until)
	assert.Contains(t, status, "SPX D1: OK, last bar 2020.08.28")
	assert.Contains(t, status, "EURUSD W1: COOLDOWN, paused until 2020.08.28 12:00:00")
	assert.Contains(t, status, "next update 2020.08.28 12:00:00 UTC")
}
