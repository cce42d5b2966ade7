package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RuleCache is invalidated after every write to chatbot configuration.
type RuleCache interface {
	Invalidate()
}

type SessionTerminator interface {
	TerminateSession(ctx context.Context, id uint) error
}

type MessageSender interface {
	SendMessage(ctx context.Context, to, body string) (string, error)
}

type Deps struct {
	DB       *gorm.DB
	Cache    RuleCache
	Sessions SessionTerminator
	Sender   MessageSender
	Webhook  *webhook.Handler
	// LiveFeed serves the dashboard websocket; nil disables /ws.
	LiveFeed http.HandlerFunc
	Logger   *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(d.Logger), gin.Recovery(), cors())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if d.Webhook != nil {
		r.GET("/webhook", d.Webhook.VerifyWebhook)
		r.POST("/webhook", d.Webhook.HandleMessage)
	}
	if d.LiveFeed != nil {
		r.GET("/ws", gin.WrapF(d.LiveFeed))
	}

	dashboardHandler := NewDashboardHandler(d.DB, d.Sender)
	contactHandler := NewContactHandler(d.DB)
	automationHandler := NewAutomationHandler(d.DB, d.Cache)
	flowHandler := NewFlowHandler(d.DB, d.Cache)
	sessionHandler := NewSessionHandler(d.DB, d.Sessions)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/messages", dashboardHandler.GetMessages)
		apiGroup.POST("/send", dashboardHandler.SendMessage)

		// CRM Routes
		apiGroup.GET("/contacts", contactHandler.GetContacts)
		apiGroup.POST("/contacts", contactHandler.CreateContact)
		apiGroup.PUT("/contacts/:waId", contactHandler.UpdateContact)
		apiGroup.DELETE("/contacts/:waId", contactHandler.DeleteContact)
		apiGroup.GET("/contacts/export", contactHandler.ExportContacts)

		// Chatbot Routes
		apiGroup.GET("/chatbots", automationHandler.GetChatbots)
		apiGroup.POST("/chatbots", automationHandler.CreateChatbot)
		apiGroup.GET("/chatbots/:id", automationHandler.GetChatbot)
		apiGroup.PUT("/chatbots/:id", automationHandler.UpdateChatbot)
		apiGroup.DELETE("/chatbots/:id", automationHandler.DeleteChatbot)
		apiGroup.POST("/chatbots/:id/activate", automationHandler.ActivateChatbot)
		apiGroup.POST("/chatbots/:id/deactivate", automationHandler.DeactivateChatbot)

		// Automation Routes
		apiGroup.GET("/automation/rules", automationHandler.GetRules)
		apiGroup.POST("/automation/rules", automationHandler.CreateRule)
		apiGroup.PUT("/automation/rules/:id", automationHandler.UpdateRule)
		apiGroup.DELETE("/automation/rules/:id", automationHandler.DeleteRule)
		apiGroup.POST("/automation/rules/:id/toggle", automationHandler.ToggleRule)
		apiGroup.GET("/automation/interactions", automationHandler.GetInteractions)
		apiGroup.GET("/automation/analytics", automationHandler.GetAnalytics)

		// Flow Routes
		apiGroup.GET("/flows", flowHandler.GetFlows)
		apiGroup.POST("/flows", flowHandler.CreateFlow)
		apiGroup.GET("/flows/:id", flowHandler.GetFlow)
		apiGroup.PUT("/flows/:id", flowHandler.UpdateFlow)
		apiGroup.DELETE("/flows/:id", flowHandler.DeleteFlow)
		apiGroup.POST("/flows/:id/steps", flowHandler.CreateStep)
		apiGroup.PUT("/steps/:id", flowHandler.UpdateStep)
		apiGroup.DELETE("/steps/:id", flowHandler.DeleteStep)

		// Session Routes
		apiGroup.GET("/sessions", sessionHandler.GetSessions)
		apiGroup.GET("/sessions/:id", sessionHandler.GetSession)
		apiGroup.GET("/sessions/:id/messages", sessionHandler.GetSessionMessages)
		apiGroup.POST("/sessions/:id/terminate", sessionHandler.TerminateSession)
	}
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func limitQuery(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// respondError maps store errors to status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, automation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, gorm.ErrDuplicatedKey):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrInvalidStep), errors.Is(err, errInvalidReference):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
