package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"robosim-backend/models"
)

// EventService - 실행 이벤트 알림 서비스
//
// 스케줄러와 시뮬레이터가 QueueEvent로 넣은 이벤트를 고루틴 하나가 꺼내
// run_event 메시지로 브로드캐스트한다. 큐에 넣는 쪽은 절대 막히지 않는다.
type EventService struct {
	broadcastFunc func(models.WebSocketMessage)

	// 타입별 마지막 전송 시각 (쿨다운용)
	lastSent map[string]time.Time

	// 설정
	cooldown time.Duration // 저우선순위 이벤트 최소 간격
	enabled  bool
	mu       sync.RWMutex

	// 이벤트 큐
	eventQueue chan RunEvent
	stopChan   chan struct{}
	done       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// RunEvent - 큐에 들어가는 이벤트
type RunEvent struct {
	Type      string                 // 이벤트 타입
	Priority  int                    // 우선순위 (높을수록 중요)
	Data      map[string]interface{} // 이벤트 데이터
	Timestamp time.Time
}

// 이벤트 타입 상수
const (
	EventRunStarted          = "run_started"           // 실행 시작
	EventStartGateWaiting    = "start_gate_waiting"    // 시작 버튼 대기
	EventStartGateReleased   = "start_gate_released"   // 시작 버튼 눌림
	EventProgramFinished     = "program_finished"      // 프로그램 정상 종료
	EventProgramLoadError    = "program_load_error"    // 프로그램 로드 실패
	EventProgramRuntimeError = "program_runtime_error" // 프로그램 실행 중 오류
	EventRunStopped          = "run_stopped"           // 실행 정지
	EventRunPaused           = "run_paused"            // 일시정지
	EventRunResumed          = "run_resumed"           // 재개
	EventStuckRunForced      = "stuck_run_forced"      // 이전 실행 강제 정리
	EventMapUpdated          = "map_updated"           // 맵 교체
	EventSignDetected        = "sign_detected"         // 카메라 표지 인식
)

// 이벤트 우선순위
var eventPriority = map[string]int{
	EventProgramLoadError:    100, // 최고 우선순위
	EventProgramRuntimeError: 100,
	EventStuckRunForced:      90,
	EventRunStopped:          80,
	EventRunStarted:          70,
	EventStartGateReleased:   70,
	EventStartGateWaiting:    60,
	EventProgramFinished:     60,
	EventRunPaused:           50,
	EventRunResumed:          50,
	EventMapUpdated:          40,
	EventSignDetected:        5, // 최저 우선순위
}

// 이 값 미만의 이벤트만 쿨다운 대상
const cooldownPriorityCeiling = 10

// NewEventService - 이벤트 서비스 생성
func NewEventService(broadcastFunc func(models.WebSocketMessage)) *EventService {
	return &EventService{
		broadcastFunc: broadcastFunc,
		lastSent:      make(map[string]time.Time),
		cooldown:      time.Second,
		enabled:       true,
		eventQueue:    make(chan RunEvent, 64),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start - 이벤트 처리 고루틴 시작
func (es *EventService) Start() {
	es.startOnce.Do(func() {
		log.Println("📣 이벤트 서비스 시작")
		go es.processEvents()
	})
}

// Stop - 남은 이벤트를 보내고 종료
func (es *EventService) Stop() {
	es.stopOnce.Do(func() {
		close(es.stopChan)
		es.startOnce.Do(func() { close(es.done) })
		<-es.done
		log.Println("📣 이벤트 서비스 중지")
	})
}

// SetEnabled - 이벤트 알림 활성화/비활성화
func (es *EventService) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

// SetCooldown - 저우선순위 이벤트 쿨다운 설정
func (es *EventService) SetCooldown(duration time.Duration) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.cooldown = duration
}

// processEvents - 이벤트 큐 처리
func (es *EventService) processEvents() {
	defer close(es.done)
	for {
		select {
		case event := <-es.eventQueue:
			es.handleEvent(event)
		case <-es.stopChan:
			for {
				select {
				case event := <-es.eventQueue:
					es.handleEvent(event)
				default:
					return
				}
			}
		}
	}
}

// QueueEvent - 이벤트 큐에 추가 (비차단)
func (es *EventService) QueueEvent(eventType string, data map[string]interface{}) {
	es.mu.RLock()
	enabled := es.enabled
	es.mu.RUnlock()

	if !enabled {
		return
	}

	priority := eventPriority[eventType]
	if priority == 0 {
		priority = 10
	}

	event := RunEvent{
		Type:      eventType,
		Priority:  priority,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case es.eventQueue <- event:
	default:
		log.Printf("⚠️ 이벤트 큐 가득 참, 이벤트 무시: %s", eventType)
	}
}

// handleEvent - 쿨다운 확인 후 브로드캐스트
func (es *EventService) handleEvent(event RunEvent) {
	if event.Priority < cooldownPriorityCeiling {
		es.mu.Lock()
		if last, ok := es.lastSent[event.Type]; ok && event.Timestamp.Sub(last) < es.cooldown {
			es.mu.Unlock()
			return
		}
		es.lastSent[event.Type] = event.Timestamp
		es.mu.Unlock()
	}

	msg := buildEventMessage(event)
	if event.Priority >= eventPriority[EventStuckRunForced] {
		log.Printf("⚠️ [%s] %s", event.Type, msg)
	} else {
		log.Printf("📣 [%s] %s", event.Type, msg)
	}

	if es.broadcastFunc == nil {
		return
	}
	es.broadcastFunc(models.WebSocketMessage{
		Type: models.MessageTypeRunEvent,
		Data: models.RunEventData{
			EventType: event.Type,
			RunID:     getStringFromMap(event.Data, "run_id", ""),
			Message:   msg,
			Data:      event.Data,
			Timestamp: event.Timestamp.UnixMilli(),
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

// buildEventMessage - 이벤트별 사람이 읽을 메시지
func buildEventMessage(event RunEvent) string {
	data := event.Data

	switch event.Type {
	case EventRunStarted:
		return fmt.Sprintf("실행 시작 (%s)", getStringFromMap(data, "program", "program"))
	case EventStartGateWaiting:
		return "시작 버튼 대기 중"
	case EventStartGateReleased:
		return "시작 버튼 눌림, 프로그램 실행"
	case EventProgramFinished:
		return "프로그램 종료"
	case EventProgramLoadError:
		return fmt.Sprintf("프로그램 로드 실패: %s", getStringFromMap(data, "error", "unknown"))
	case EventProgramRuntimeError:
		return fmt.Sprintf("프로그램 실행 오류: %s", getStringFromMap(data, "error", "unknown"))
	case EventRunStopped:
		return "실행 정지"
	case EventRunPaused:
		return "일시정지"
	case EventRunResumed:
		return "재개"
	case EventStuckRunForced:
		return fmt.Sprintf("이전 실행이 %d번 확인 후에도 남아 있어 강제 정리", getIntFromMap(data, "attempts", 0))
	case EventMapUpdated:
		return fmt.Sprintf("맵 교체: %s", getStringFromMap(data, "map_id", ""))
	case EventSignDetected:
		return fmt.Sprintf("표지 인식: %s", getStringFromMap(data, "label", models.SignNone))
	default:
		return event.Type
	}
}

// ============================================
// 헬퍼 함수들
// ============================================

func getStringFromMap(m map[string]interface{}, key, defaultVal string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

func getIntFromMap(m map[string]interface{}, key string, defaultVal int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultVal
}
