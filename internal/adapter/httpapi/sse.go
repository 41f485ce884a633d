package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// sseEvent はSSEで送る1イベント
type sseEvent struct {
	Event string
	Data  any
	ID    string
}

// newEvent はIDを付与したイベントを作成
func newEvent(name string, data any) sseEvent {
	return sseEvent{Event: name, Data: data, ID: uuid.NewString()}
}

// write は text/event-stream 形式で書き出す
func (e sseEvent) write(w io.Writer) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal sse data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n", e.Event, data); err != nil {
		return err
	}
	if e.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", e.ID); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// sseStream は1つのSSE接続
type sseStream struct {
	events    chan sseEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *sseStream) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// sseHub はセッションIDごとのSSE接続を管理する
type sseHub struct {
	mu      sync.RWMutex
	streams map[string]*sseStream
}

func newSSEHub() *sseHub {
	return &sseHub{streams: make(map[string]*sseStream)}
}

// open は接続を登録する。同じIDの既存接続は閉じる
func (h *sseHub) open(id string) *sseStream {
	s := &sseStream{
		events: make(chan sseEvent, 16),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	old := h.streams[id]
	h.streams[id] = s
	h.mu.Unlock()

	if old != nil {
		old.close()
	}
	return s
}

// release は接続が終了したときに登録を外す
func (h *sseHub) release(id string, s *sseStream) {
	h.mu.Lock()
	if h.streams[id] == s {
		delete(h.streams, id)
	}
	h.mu.Unlock()
	s.close()
}

// publish はイベントを送る。接続がなければ false
func (h *sseHub) publish(id string, e sseEvent) bool {
	h.mu.RLock()
	s, ok := h.streams[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	}
}

// closeStream は closed イベントを送ってから接続を閉じる
func (h *sseHub) closeStream(id string, e sseEvent) bool {
	h.mu.Lock()
	s, ok := h.streams[id]
	delete(h.streams, id)
	h.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case s.events <- e:
	default:
	}
	s.close()
	return true
}

func (h *sseHub) has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.streams[id]
	return ok
}

func (h *sseHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}
