package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/Nyukimin/storefront_agent/internal/application/agent"
	"github.com/Nyukimin/storefront_agent/internal/application/healthwatch"
	"github.com/Nyukimin/storefront_agent/internal/domain/routing"
	"github.com/Nyukimin/storefront_agent/internal/domain/task"
)

// Agent はHTTP APIが使うエージェント機能
type Agent interface {
	ProcessRequest(ctx context.Context, req task.Request) agent.Response
	AvailableOperations(ctx context.Context) agent.Operations
	TestConnection(ctx context.Context) bool
	Reconnect(ctx context.Context) bool
	AnalyzeIntent(ctx context.Context, utterance string) (routing.IntentAnalysis, error)
	Resources(ctx context.Context) []agent.ResourceInfo
	ReadResource(ctx context.Context, server, uri string) (any, error)
}

// HealthReporter は定期ヘルスチェックの結果を返す
type HealthReporter interface {
	Statuses() []healthwatch.Status
}

// Options はHandlerの設定
type Options struct {
	AllowedOrigins []string
	SSEKeepalive   time.Duration
	Gatherer       prometheus.Gatherer
	Health         HealthReporter
	Logger         *slog.Logger
}

// Handler はチャットUI向けのHTTPハンドラー
type Handler struct {
	agent     Agent
	hub       *sseHub
	upgrader  websocket.Upgrader
	keepalive time.Duration
	health    HealthReporter
	logger    *slog.Logger
	handler   http.Handler
}

// NewHandler は新しいHandlerを作成
func NewHandler(a Agent, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SSEKeepalive <= 0 {
		opts.SSEKeepalive = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	h := &Handler{
		agent:     a,
		hub:       newSSEHub(),
		keepalive: opts.SSEKeepalive,
		health:    opts.Health,
		logger:    opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/chat", h.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/tools", h.handleTools).Methods(http.MethodGet)
	r.HandleFunc("/servers", h.handleServers).Methods(http.MethodGet)
	r.HandleFunc("/reconnect", h.handleReconnect).Methods(http.MethodPost)
	r.HandleFunc("/analyze", h.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/resources", h.handleResources).Methods(http.MethodGet)
	r.HandleFunc("/resources/{server}", h.handleReadResource).Methods(http.MethodGet)
	r.HandleFunc("/sse/chat", h.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/sse/chat/{session_id}/message", h.handleSSEMessage).Methods(http.MethodPost)
	r.HandleFunc("/sse/chat/{session_id}", h.handleSSEClose).Methods(http.MethodDelete)
	r.HandleFunc("/ws/chat", h.handleWebSocket).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	h.handler = c.Handler(r)
	return h
}

// ServeHTTP はHTTPリクエストを処理
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// ChatRequest はチャットメッセージのリクエスト
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// MCPDetails は応答に添えるルーティング情報
type MCPDetails struct {
	ServerUsed string  `json:"server_used,omitempty"`
	ToolCalled string  `json:"tool_called,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Success    bool    `json:"success"`
	State      string  `json:"state"`
}

// ChatResponse はチャットメッセージのレスポンス
type ChatResponse struct {
	Response   string      `json:"response"`
	Success    bool        `json:"success"`
	RequestID  string      `json:"request_id"`
	SessionID  string      `json:"session_id,omitempty"`
	Error      string      `json:"error,omitempty"`
	MCPDetails *MCPDetails `json:"mcp_details,omitempty"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status         string               `json:"status"`
	AgentConnected bool                 `json:"agent_connected"`
	MCPServers     int                  `json:"mcp_servers"`
	AvailableTools int                  `json:"available_tools"`
	Checks         []healthwatch.Status `json:"checks,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := h.agent.TestConnection(r.Context())
	ops := h.agent.AvailableOperations(r.Context())

	resp := HealthResponse{
		Status:         "healthy",
		AgentConnected: connected,
		MCPServers:     ops.TotalServers,
		AvailableTools: ops.TotalTools,
	}
	if !connected {
		resp.Status = "unhealthy"
	}
	if h.health != nil {
		resp.Checks = h.health.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	treq := task.NewRequest(req.Message, task.ChannelHTTP)
	if req.SessionID != "" {
		treq = treq.WithSessionID(req.SessionID)
	}

	resp := h.agent.ProcessRequest(r.Context(), treq)
	writeJSON(w, http.StatusOK, toChatResponse(resp))
}

func (h *Handler) handleTools(w http.ResponseWriter, r *http.Request) {
	ops := h.agent.AvailableOperations(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":         ops.Tools,
		"servers":       ops.Servers,
		"total_tools":   ops.TotalTools,
		"total_servers": ops.TotalServers,
	})
}

func (h *Handler) handleServers(w http.ResponseWriter, r *http.Request) {
	ops := h.agent.AvailableOperations(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"servers":           ops.Servers,
		"total_servers":     ops.TotalServers,
		"connected_servers": ops.ConnectedServers,
	})
}

func (h *Handler) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !h.agent.Reconnect(r.Context()) {
		writeError(w, http.StatusInternalServerError, "Failed to reconnect agent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Agent reconnected successfully",
		"success": true,
	})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	analysis, err := h.agent.AnalyzeIntent(r.Context(), req.Message)
	if err != nil {
		h.logger.Error("intent analysis failed", "error", err)
		writeError(w, http.StatusBadGateway, "Intent analysis is unavailable right now")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *Handler) handleResources(w http.ResponseWriter, r *http.Request) {
	resources := h.agent.Resources(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"resources":       resources,
		"total_resources": len(resources),
	})
}

func (h *Handler) handleReadResource(w http.ResponseWriter, r *http.Request) {
	server := mux.Vars(r)["server"]
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	content, err := h.agent.ReadResource(r.Context(), server, uri)
	if err != nil {
		h.logger.Error("failed to read resource", "backend", server, "uri", uri, "error", err)
		if errors.Is(err, agent.ErrResourcesUnsupported) {
			writeError(w, http.StatusNotFound, "Server does not expose resources")
			return
		}
		writeError(w, http.StatusBadGateway, "Failed to read resource")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server":  server,
		"uri":     uri,
		"content": content,
	})
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	stream := h.hub.open(sessionID)
	defer h.hub.release(sessionID, stream)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	connected := sseEvent{Event: "connected", Data: map[string]any{
		"session_id": sessionID,
		"message":    "Connected to Storefront Agent",
	}}
	if err := connected.write(w); err != nil {
		return
	}
	flusher.Flush()
	h.logger.Info("sse connection opened", "session_id", sessionID)

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("sse client disconnected", "session_id", sessionID)
			return
		case e := <-stream.events:
			if err := e.write(w); err != nil {
				return
			}
			flusher.Flush()
		case <-stream.done:
			drain(w, flusher, stream)
			h.logger.Info("sse connection closed", "session_id", sessionID)
			return
		case t := <-ticker.C:
			if err := newEvent("keepalive", map[string]any{"timestamp": t.Unix()}).write(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// drain は閉じる前に残っているイベントを書き出す
func drain(w http.ResponseWriter, flusher http.Flusher, stream *sseStream) {
	for {
		select {
		case e := <-stream.events:
			if err := e.write(w); err != nil {
				return
			}
			flusher.Flush()
		default:
			return
		}
	}
}

func (h *Handler) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if !h.hub.has(sessionID) {
		writeError(w, http.StatusNotFound, "SSE connection not found")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.hub.publish(sessionID, newEvent("processing", map[string]any{
		"message":   req.Message,
		"status":    "processing",
		"timestamp": time.Now().Unix(),
	}))

	treq := task.NewRequest(req.Message, task.ChannelSSE).WithSessionID(sessionID)
	resp := h.agent.ProcessRequest(r.Context(), treq)

	data := toChatResponse(resp)
	data.SessionID = sessionID
	if !h.hub.publish(sessionID, newEvent("response", data)) {
		h.logger.Warn("sse connection gone before response", "session_id", sessionID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Message sent successfully",
		"session_id": sessionID,
	})
}

func (h *Handler) handleSSEClose(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	h.hub.closeStream(sessionID, newEvent("closed", map[string]any{
		"message":   "Connection closed",
		"timestamp": time.Now().Unix(),
	}))
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Connection closed",
		"session_id": sessionID,
	})
}

// toChatResponse はエージェントの応答をAPIレスポンスに変換
func toChatResponse(resp agent.Response) ChatResponse {
	out := ChatResponse{
		Response:  resp.FinalResponse,
		Success:   resp.Success,
		RequestID: resp.RequestID,
		SessionID: resp.SessionID,
		Error:     resp.Outcome.PublicError(),
	}

	o := resp.Outcome
	details := &MCPDetails{
		ServerUsed: o.Backend,
		ToolCalled: o.Operation,
		Reasoning:  o.Reasoning(),
		Success:    o.Success,
		State:      string(o.State),
	}
	if o.Decision != nil {
		details.Confidence = o.Decision.Confidence
	}
	out.MCPDetails = details
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
