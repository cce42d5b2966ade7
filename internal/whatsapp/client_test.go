package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/config"
	"whatsapp-chatbot/internal/database"
	"whatsapp-chatbot/internal/models"

	"go.uber.org/zap"
)

func TestSendMessage(t *testing.T) {
	var got GenericMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v19.0/123/messages" {
			t.Errorf("path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth header %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	}))
	defer srv.Close()

	db, err := database.OpenSQLite("file:whatsapp_send?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{GraphAPIURL: srv.URL, GraphAPIVersion: "v19.0", PhoneNumberID: "123", WhatsAppToken: "tok"}
	c := NewClient(cfg, db, zap.NewNop())

	id, err := c.SendMessage(context.Background(), "5511999", "Olá!")
	if err != nil {
		t.Fatal(err)
	}
	if id != "wamid.ABC" {
		t.Fatalf("provider id %q", id)
	}
	if got.To != "5511999" || got.Text == nil || got.Text.Body != "Olá!" || got.Type != "text" {
		t.Fatalf("request %+v", got)
	}

	var rows []models.Message
	db.Find(&rows)
	if len(rows) != 1 || rows[0].ProviderID != "wamid.ABC" || rows[0].Status != "sent" {
		t.Fatalf("outbound history %+v", rows)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	db, err := database.OpenSQLite("file:whatsapp_error?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{GraphAPIURL: srv.URL, GraphAPIVersion: "v19.0", PhoneNumberID: "123", WhatsAppToken: "bad"}
	if _, err := NewClient(cfg, db, zap.NewNop()).SendMessage(context.Background(), "5511", "x"); err == nil {
		t.Fatal("expected error on 401")
	}
	var count int64
	db.Model(&models.Message{}).Count(&count)
	if count != 0 {
		t.Fatal("failed send recorded as sent")
	}
}

func TestSendMessage_NotConfigured(t *testing.T) {
	c := NewClient(&config.Config{}, nil, zap.NewNop())
	if _, err := c.SendMessage(context.Background(), "5511", "x"); !errors.Is(err, automation.ErrTransportNotReady) {
		t.Fatalf("expected ErrTransportNotReady, got %v", err)
	}
}
