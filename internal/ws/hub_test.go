package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsapp-chatbot/internal/automation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestHub_BroadcastsSessionUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	step := uint(12)
	hub.NotifySession(&automation.Session{ID: 3, ContactID: "5511", ChatbotID: 1, CurrentStepID: &step, Status: automation.SessionActive})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev struct {
		Type string `json:"type"`
		Data struct {
			ID            uint   `json:"id"`
			CurrentStepID uint   `json:"current_step_id"`
			Status        string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "session_update" || ev.Data.ID != 3 || ev.Data.CurrentStepID != 12 || ev.Data.Status != "active" {
		t.Fatalf("event %s", raw)
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(zap.NewNop())
	// Run is not started: the buffer fills and further events are dropped
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.NotifyInteraction(automation.Interaction{ContactID: "5511", Kind: automation.KindFallback})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked")
	}
}
