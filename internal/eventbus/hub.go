package eventbus

import (
	"context"
	"sync"
	"time"
)

// 导入流水线对外广播的事件类型
const (
	EventImportProgress = "import_progress" // 阶段/百分比推进
	EventImportResult   = "import_result"   // 单文件导入结束
	EventQualityUpdated = "quality_updated" // 基线重算完成
)

type Event struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// 慢消费者直接丢弃，避免阻塞导入流水线
		}
	}
}

// PublishProgress 广播一次导入进度
func (h *Hub) PublishProgress(stage string, percent int, message string) {
	h.Publish(Event{
		Type: EventImportProgress,
		Data: map[string]any{
			"stage":   stage,
			"percent": percent,
			"message": message,
		},
	})
}

func (h *Hub) Subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}
