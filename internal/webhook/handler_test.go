package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"whatsapp-chatbot/internal/config"
	"whatsapp-chatbot/internal/database"
	"whatsapp-chatbot/internal/models"
	"whatsapp-chatbot/internal/queue"
	payload "whatsapp-chatbot/pkg/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeQueue struct {
	mu     sync.Mutex
	events []queue.Event
	err    error
}

func (q *fakeQueue) Submit(ev queue.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, ev)
	return nil
}

func setup(t *testing.T, name string, q Submitter) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.OpenSQLite("file:"+name+"?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(&config.Config{VerifyToken: "secret"}, db, q, nil, zap.NewNop())
	r := gin.New()
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.HandleMessage)
	return r, db
}

const textPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "contacts": [{"wa_id": "5511999", "profile": {"name": "Maria"}}],
    "messages": [
      {"from": "5511999", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "oi"}},
      {"from": "5511999", "id": "wamid.2", "timestamp": "1700000001", "type": "image", "image": {"id": "img1", "caption": "foto"}}
    ]
  }}]}]
}`

func post(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestVerifyWebhook(t *testing.T) {
	r, _ := setup(t, "webhook_verify", &fakeQueue{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=42", nil))
	if w.Code != http.StatusOK || w.Body.String() != "42" {
		t.Fatalf("code=%d body=%q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong token accepted: %d", w.Code)
	}
}

func TestHandleMessage_QueuesTextAndStoresAll(t *testing.T) {
	q := &fakeQueue{}
	r, db := setup(t, "webhook_text", q)

	if w := post(r, textPayload); w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	if len(q.events) != 1 || q.events[0].Text != "oi" || q.events[0].ContactID != "5511999" || q.events[0].ID != "wamid.1" {
		t.Fatalf("events %+v", q.events)
	}

	var msgs []models.Message
	db.Order("id").Find(&msgs)
	if len(msgs) != 2 || msgs[1].Content != "[image]:img1:foto" {
		t.Fatalf("stored %+v", msgs)
	}
	var contact models.Contact
	db.First(&contact, "wa_id = ?", "5511999")
	if contact.Name != "Maria" {
		t.Fatalf("contact %+v", contact)
	}

	// redelivery of the same payload is ignored
	post(r, textPayload)
	if len(q.events) != 1 {
		t.Fatalf("duplicate dispatched: %d events", len(q.events))
	}
}

func TestHandleMessage_QueueFull(t *testing.T) {
	q := &fakeQueue{err: queue.ErrQueueFull}
	r, db := setup(t, "webhook_full", q)

	if w := post(r, textPayload); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var count int64
	db.Model(&models.Message{}).Where("provider_id = ?", "wamid.1").Count(&count)
	if count != 0 {
		t.Fatal("undispatched message stored; redelivery would be dropped")
	}

	q.err = nil
	if w := post(r, textPayload); w.Code != http.StatusOK || len(q.events) != 1 {
		t.Fatalf("redelivery not dispatched: code=%d events=%d", w.Code, len(q.events))
	}
}

func TestHandleMessage_BadJSON(t *testing.T) {
	r, _ := setup(t, "webhook_bad", &fakeQueue{})
	if w := post(r, "{"); w.Code != http.StatusBadRequest {
		t.Fatalf("code %d", w.Code)
	}
}

func TestDescribe_InteractiveReply(t *testing.T) {
	content, text, dispatch := describe(interactiveMessage("Pagamento"))
	if !dispatch || text != "Pagamento" || content != "Pagamento" {
		t.Fatalf("content=%q text=%q dispatch=%v", content, text, dispatch)
	}
}

func interactiveMessage(title string) payload.InboundMessage {
	return payload.InboundMessage{
		Type:        "interactive",
		Interactive: &payload.InteractiveMessage{Type: "button_reply", ButtonReply: &payload.ButtonReply{ID: "b1", Title: title}},
	}
}
