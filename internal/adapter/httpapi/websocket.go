package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Nyukimin/storefront_agent/internal/domain/task"
)

// wsMessage はWebSocketで受け取るメッセージ
type wsMessage struct {
	Message string `json:"message"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	h.logger.Info("websocket connection opened", "session_id", sessionID)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}

		req := task.NewRequest(msg.Message, task.ChannelWebSocket).WithSessionID(sessionID)
		resp := h.agent.ProcessRequest(r.Context(), req)

		if err := conn.WriteJSON(toChatResponse(resp)); err != nil {
			h.logger.Warn("websocket write failed", "session_id", sessionID, "error", err)
			return
		}
	}
}

// originChecker は許可されたOriginだけを通すチェック関数を返す
func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) || strings.EqualFold(o, u.Scheme+"://"+u.Host) {
				return true
			}
		}
		return false
	}
}
