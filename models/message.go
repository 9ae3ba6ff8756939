package models

// ========================================
// 메시지 타입 상수
// ========================================
const (
	// Server → Web
	MessageTypeFrame      = "sim_frame"   // 자세/센서 프레임
	MessageTypeRunEvent   = "run_event"   // 실행 이벤트 (시작, 정지, 오류 등)
	MessageTypeConsole    = "console"     // 제어 프로그램 콘솔 출력
	MessageTypeMapUpdate  = "map_update"  // 맵 교체
	MessageTypeSystemInfo = "system_info" // 시스템 정보

	// Web → Server
	MessageTypeCommand = "command" // 실행 제어 / 버튼 입력
)

// 명령 액션
const (
	ActionStart         = "start"
	ActionStop          = "stop"
	ActionPause         = "pause"
	ActionReset         = "reset"
	ActionButtonPress   = "button_press"
	ActionButtonRelease = "button_release"
	ActionButtonClick   = "button_click" // 누르고 바로 뗌 (시작 버튼)
)

// ========================================
// 공통 WebSocket 메시지 형식
// ========================================
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"` // Unix timestamp (ms)
}

// CommandData - Web → Server 명령
type CommandData struct {
	Action        string `json:"action"`
	SkipStartGate bool   `json:"skip_start_gate"`
}

// RunEventData - 실행 이벤트
type RunEventData struct {
	EventType string                 `json:"event_type"`
	RunID     string                 `json:"run_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// ConsoleData - 콘솔 출력 묶음
type ConsoleData struct {
	RunID string   `json:"run_id,omitempty"`
	Lines []string `json:"lines"`
}

// ProgramUpload - 제어 프로그램 업로드 요청
type ProgramUpload struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}
