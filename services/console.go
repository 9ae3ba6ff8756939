package services

import (
	"log"
	"sync"
	"time"

	"robosim-backend/models"
)

// ConsoleBuffer - 제어 프로그램 콘솔 출력 버퍼 (비동기 일괄 전송)
type ConsoleBuffer struct {
	lines     []string
	runID     string
	mu        sync.Mutex
	flushSize int           // 일괄 전송 크기
	flushTime time.Duration // 자동 플러시 시간

	broadcastFunc func(models.WebSocketMessage)

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewConsoleBuffer - 콘솔 버퍼 생성 및 자동 플러시 시작
//
// flushInterval이 0 이하이면 자동 플러시 없이 크기/수동 플러시만 한다.
func NewConsoleBuffer(flushSize int, flushInterval time.Duration, broadcastFunc func(models.WebSocketMessage)) *ConsoleBuffer {
	if flushSize <= 0 {
		flushSize = 20
	}
	cb := &ConsoleBuffer{
		lines:         make([]string, 0, flushSize*2),
		flushSize:     flushSize,
		flushTime:     flushInterval,
		broadcastFunc: broadcastFunc,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	if flushInterval > 0 {
		go cb.autoFlush()
	} else {
		close(cb.done)
	}

	log.Printf("✅ 콘솔 버퍼 초기화 완료 (flushSize: %d, flushInterval: %v)", flushSize, flushInterval)
	return cb
}

// autoFlush - 주기적 전송
func (cb *ConsoleBuffer) autoFlush() {
	defer close(cb.done)

	ticker := time.NewTicker(cb.flushTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cb.Flush()
		case <-cb.stopChan:
			cb.Flush() // 종료 시 남은 출력 전송
			return
		}
	}
}

// SetRunID - 이후 출력에 붙일 실행 ID (이전 실행 출력은 먼저 내보낸다)
func (cb *ConsoleBuffer) SetRunID(runID string) {
	cb.Flush()
	cb.mu.Lock()
	cb.runID = runID
	cb.mu.Unlock()
}

// Print - 한 줄 추가
func (cb *ConsoleBuffer) Print(line string) {
	cb.mu.Lock()
	cb.lines = append(cb.lines, line)
	size := len(cb.lines)
	cb.mu.Unlock()

	// 버퍼 크기가 차면 즉시 플러시
	if size >= cb.flushSize {
		cb.Flush()
	}
}

// Flush - 버퍼의 모든 줄을 전송
func (cb *ConsoleBuffer) Flush() {
	cb.mu.Lock()
	if len(cb.lines) == 0 {
		cb.mu.Unlock()
		return
	}

	batch := make([]string, len(cb.lines))
	copy(batch, cb.lines)
	cb.lines = cb.lines[:0]
	runID := cb.runID
	cb.mu.Unlock()

	if cb.broadcastFunc == nil {
		return
	}
	cb.broadcastFunc(models.WebSocketMessage{
		Type: models.MessageTypeConsole,
		Data: models.ConsoleData{
			RunID: runID,
			Lines: batch,
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

// Stop - 자동 플러시 종료 (남은 출력 전송)
func (cb *ConsoleBuffer) Stop() {
	cb.stopOnce.Do(func() {
		close(cb.stopChan)
		<-cb.done
		cb.Flush()
		log.Println("🛑 콘솔 버퍼 종료")
	})
}
