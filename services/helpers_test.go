package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"robosim-backend/algorithms"
	"robosim-backend/models"
)

// recorder - 브로드캐스트된 메시지 수집
type recorder struct {
	mu   sync.Mutex
	msgs []models.WebSocketMessage
}

func (r *recorder) broadcast(msg models.WebSocketMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) byType(msgType string) []models.WebSocketMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebSocketMessage
	for _, m := range r.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// eventTypes - run_event 메시지의 이벤트 타입 목록
func (r *recorder) eventTypes() []string {
	var out []string
	for _, m := range r.byType(models.MessageTypeRunEvent) {
		out = append(out, m.Data.(models.RunEventData).EventType)
	}
	return out
}

func (r *recorder) hasEvent(eventType string) bool {
	for _, et := range r.eventTypes() {
		if et == eventType {
			return true
		}
	}
	return false
}

// manualSimConfig - 백그라운드 루프 없이 Step을 직접 호출하는 설정
func manualSimConfig() SimulatorConfig {
	return SimulatorConfig{MaxDt: 50 * time.Millisecond, FrameInterval: 50 * time.Millisecond}
}

func newTestSimulator(t *testing.T, rec *recorder) *Simulator {
	t.Helper()
	var fn func(models.WebSocketMessage)
	if rec != nil {
		fn = rec.broadcast
	}
	sim, err := NewSimulator(NewMapGenerator().BlankMap(), algorithms.DefaultProfile(), manualSimConfig(), fn)
	require.NoError(t, err)
	return sim
}
