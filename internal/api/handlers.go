package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/llmlog/llmlog/internal/adapter"
	"github.com/llmlog/llmlog/internal/capture"
	"github.com/llmlog/llmlog/internal/config"
	"github.com/llmlog/llmlog/internal/dedupe"
	"github.com/llmlog/llmlog/internal/store"
)

// captureEvent is the ingest payload: one captured request/response pair.
// The host has already fetched both bodies; Streaming marks response bodies
// that arrived as an SSE stream.
type captureEvent struct {
	URL          string `json:"url" binding:"required"`
	RequestBody  string `json:"requestBody"`
	ResponseBody string `json:"responseBody"`
	Streaming    bool   `json:"streaming"`
}

// Handler processes capture and browsing requests.
type Handler struct {
	store    *store.Store
	registry *adapter.Registry

	// mu guards caches across configuration reloads.
	mu     sync.RWMutex
	caches map[string]*dedupe.Cache
}

// NewHandler returns a Handler with one adapter-local dedup cache per
// registered platform.
func NewHandler(cfg *config.Config, st *store.Store, registry *adapter.Registry) *Handler {
	return &Handler{
		store:    st,
		registry: registry,
		caches:   NewDedupeCaches(cfg, registry.Platforms()),
	}
}

// Reconfigure applies reloaded dedup tuning to the adapter-local caches.
func (h *Handler) Reconfigure(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cache := range h.caches {
		cache.Reconfigure(cfg.DedupWindow(), cfg.DedupMaxEntries)
	}
}

// Capture routes a captured network event to the adapter matching its
// endpoint, reconstructs the exchange and persists it. Parse failures never
// fail the request; the worst case is an ignored event.
func (h *Handler) Capture(c *gin.Context) {
	var event captureEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid capture event: " + err.Error()})
		return
	}
	eventID := uuid.NewString()

	a, ok := h.registry.Match(event.URL)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "no adapter for endpoint"})
		return
	}
	log.Debugf("capture %s: routing %s to %s adapter", eventID, event.URL, a.Platform())

	prompt := a.ParseRequest(&capture.Request{URL: event.URL, Body: []byte(event.RequestBody)})
	result := a.ParseResponse(c.Request.Context(), responseOf(&event))
	if result.Prompt != "" {
		prompt = result.Prompt
	}
	if prompt == "" && result.Text == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "empty conversation"})
		return
	}

	// Adapter-local suppression of exchanges captured moments ago. The
	// store below performs its own authoritative dedup check.
	if cache := h.cache(a.Platform()); cache != nil && cache.Seen(dedupe.Fingerprint(prompt, result.Text)) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "recently captured"})
		return
	}

	saved, err := h.store.SaveConversation(store.Conversation{
		Platform: a.Platform(),
		Prompt:   prompt,
		Response: result.Text,
		URL:      event.URL,
	})
	if err != nil {
		log.Errorf("capture %s: save failed: %v", eventID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to save conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": saved})
}

// ListConversations serves a filtered, paginated page of records.
func (h *Handler) ListConversations(c *gin.Context) {
	q := store.Query{
		Page:   intQuery(c, "page", 1),
		Limit:  intQuery(c, "limit", 20),
		Search: strings.TrimSpace(c.Query("search")),
	}
	page, err := h.store.GetConversations(q)
	if err != nil {
		log.Errorf("list conversations failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"conversations": page.Conversations,
			"pagination":    gin.H{"page": page.Page, "limit": page.Limit, "hasMore": page.HasMore},
		},
	})
}

// AllConversations serves every record, most recent first.
func (h *Handler) AllConversations(c *gin.Context) {
	records, err := h.store.GetAllConversations()
	if err != nil {
		log.Errorf("list all conversations failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to list conversations"})
		return
	}
	if records == nil {
		records = []store.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"conversations": records}})
}

// CountConversations serves the total matching the same filter as listing.
func (h *Handler) CountConversations(c *gin.Context) {
	count, err := h.store.GetTotalConversationCount(strings.TrimSpace(c.Query("search")))
	if err != nil {
		log.Errorf("count conversations failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to count conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"count": count}})
}

// DeleteConversation removes one record by id. A missing id is reported, not
// treated as a server failure.
func (h *Handler) DeleteConversation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid conversation id"})
		return
	}
	switch err = h.store.DeleteConversation(id); {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "conversation not found"})
	case err != nil:
		log.Errorf("delete conversation %d failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to delete conversation"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"id": id}})
	}
}

func (h *Handler) cache(platform string) *dedupe.Cache {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.caches[platform]
}

// responseOf builds the adapter-facing response object. Streamed bodies are
// replayed to the adapter as a chunk source so the stream decoder sees the
// same record framing the page did.
func responseOf(event *captureEvent) *capture.Response {
	resp := &capture.Response{URL: event.URL}
	if event.Streaming {
		resp.Stream = capture.SourceFromChunks([]byte(event.ResponseBody))
		return resp
	}
	resp.Body = []byte(event.ResponseBody)
	return resp
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
