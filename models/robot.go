package models

// ========================================
// 실행 상태 상수
// ========================================
const (
	RunStateIdle          RunState = "idle"           // 대기 (실행 중 아님)
	RunStateAwaitingStart RunState = "awaiting_start" // 시작 버튼 대기
	RunStateRunning       RunState = "running"        // 실행 중
	RunStatePaused        RunState = "paused"         // 일시정지
	RunStateStopping      RunState = "stopping"       // 정지 처리 중
)

// 카메라가 아무 구역도 인식하지 못했을 때의 라벨
const SignNone = "none"

// 라인 센서 극값 (12bit ADC)
const (
	SensorLow  = 0
	SensorHigh = 4095
)

// RunState - 스케줄러 실행 상태
type RunState string

// LinePolarity - 라인 센서 극성
type LinePolarity string

const (
	PolarityDarkLow  LinePolarity = "dark_low"  // 어두운 마킹 = 0, 밝은 바닥 = 4095
	PolarityDarkHigh LinePolarity = "dark_high" // 어두운 마킹 = 4095, 밝은 바닥 = 0
)

// ========================================
// 로봇 자세
// ========================================
type Pose struct {
	X       float64 `json:"x"`       // 픽셀 좌표
	Y       float64 `json:"y"`       // 픽셀 좌표 (아래로 증가)
	Heading float64 `json:"heading"` // 도 단위, 범위 정규화 없음
}

// ========================================
// 바퀴 속도 명령
// ========================================
type WheelCommand struct {
	Left  float64 `json:"left"`  // -100 ~ 100
	Right float64 `json:"right"` // -100 ~ 100
}

// ========================================
// 센서 프레임 (매 틱 재계산)
// ========================================
type SensorFrame struct {
	LineLeft     int     `json:"line_left"`
	LineCenter   int     `json:"line_center"`
	LineRight    int     `json:"line_right"`
	Range        float64 `json:"range"` // 거리 (px)
	Light        int     `json:"light"`
	SignLabel    string  `json:"sign_label"`
	EncoderLeft  int     `json:"encoder_left"`
	EncoderRight int     `json:"encoder_right"`
}

// RGB - LED 색상
type RGB [3]uint8

// IndicatorColors - 4개 LED 색상
type IndicatorColors [4]RGB

// 기본 LED 색상 (주황)
var DefaultIndicatorColor = RGB{255, 165, 0}

// ========================================
// 브로드캐스트용 시뮬레이션 프레임
// ========================================
type SimFrame struct {
	Tick       uint64          `json:"tick"`
	RunState   RunState        `json:"run_state"`
	Pose       Pose            `json:"pose"`
	Wheels     WheelCommand    `json:"wheels"`
	Sensors    SensorFrame     `json:"sensors"`
	Indicators IndicatorColors `json:"indicators"`
	Button     bool            `json:"button"`
	Paused     bool            `json:"paused"`
}
