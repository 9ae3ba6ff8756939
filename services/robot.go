package services

import (
	"sync"

	"robosim-backend/algorithms"
	"robosim-backend/models"
)

// ControlSurface - 로봇의 공유 가변 상태
//
// 물리 루프와 제어 프로그램이 공유하는 유일한 상태다. 두 쪽이 서로 다른
// 고루틴에서 돌기 때문에 모든 접근은 mu를 거친다.
// 버튼은 UI 입력과 프로그램 양쪽이 쓰며, 마지막 쓰기가 이긴다.
type ControlSurface struct {
	mu sync.RWMutex

	pose       models.Pose
	wheels     models.WheelCommand
	encLeft    float64
	encRight   float64
	frame      models.SensorFrame
	indicators models.IndicatorColors
	button     bool

	onPress []func()
}

// NewControlSurface - 컨트롤 서피스 생성
func NewControlSurface(start models.Pose) *ControlSurface {
	cs := &ControlSurface{}
	cs.pose = start
	cs.indicators = defaultIndicators()
	return cs
}

func defaultIndicators() models.IndicatorColors {
	var c models.IndicatorColors
	for i := range c {
		c[i] = models.DefaultIndicatorColor
	}
	return c
}

// SetWheelSpeeds - 바퀴 속도 설정 (다음 물리 틱부터 반영)
func (cs *ControlSurface) SetWheelSpeeds(left, right float64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.wheels = algorithms.ClampCommand(models.WheelCommand{Left: left, Right: right})
}

// StopMotors - 양쪽 모터 정지
func (cs *ControlSurface) StopMotors() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.wheels = models.WheelCommand{}
}

// Wheels - 현재 바퀴 속도
func (cs *ControlSurface) Wheels() models.WheelCommand {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.wheels
}

// Pose - 현재 자세
func (cs *ControlSurface) Pose() models.Pose {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.pose
}

// Frame - 마지막으로 계산된 센서 프레임
func (cs *ControlSurface) Frame() models.SensorFrame {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.frame
}

// SetIndicatorColors - LED 4개 색상 설정
func (cs *ControlSurface) SetIndicatorColors(colors models.IndicatorColors) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.indicators = colors
}

// FillIndicators - LED 전체를 한 색으로
func (cs *ControlSurface) FillIndicators(c models.RGB) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i := range cs.indicators {
		cs.indicators[i] = c
	}
}

// SetIndicator - LED 하나 설정 (범위 밖 인덱스는 무시)
func (cs *ControlSurface) SetIndicator(i int, c models.RGB) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if i < 0 || i >= len(cs.indicators) {
		return
	}
	cs.indicators[i] = c
}

// Indicators - 현재 LED 색상
func (cs *ControlSurface) Indicators() models.IndicatorColors {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.indicators
}

// PressButton - 버튼 누름 (등록된 콜백 호출)
func (cs *ControlSurface) PressButton() {
	cs.mu.Lock()
	cs.button = true
	hooks := append([]func(){}, cs.onPress...)
	cs.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// ReleaseButton - 버튼 뗌
func (cs *ControlSurface) ReleaseButton() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.button = false
}

// ButtonPressed - 버튼 상태
func (cs *ControlSurface) ButtonPressed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.button
}

// OnButtonPress - 버튼 누름 콜백 등록
func (cs *ControlSurface) OnButtonPress(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.onPress = append(cs.onPress, fn)
}

// reset - 시작 자세로 복귀, 바퀴/엔코더 초기화
func (cs *ControlSurface) reset(start models.Pose, world *models.Map, p algorithms.RobotProfile) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pose = start
	cs.wheels = models.WheelCommand{}
	cs.encLeft = 0
	cs.encRight = 0
	cs.frame = algorithms.ComputeFrame(world, cs.pose, 0, 0, p)
}

// advance - 물리 한 틱: 자세 적분, 엔코더 누적, 센서 재계산
func (cs *ControlSurface) advance(world *models.Map, p algorithms.RobotProfile, dt float64) models.SensorFrame {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.pose = algorithms.Integrate(cs.pose, cs.wheels, dt, world.Width, world.Height, p)
	dl, dr := algorithms.EncoderDelta(cs.wheels, dt, p)
	cs.encLeft += dl
	cs.encRight += dr
	cs.frame = algorithms.ComputeFrame(world, cs.pose, cs.encLeft, cs.encRight, p)
	return cs.frame
}

// snapshot - 브로드캐스트용 상태 복사
func (cs *ControlSurface) snapshot() (models.Pose, models.WheelCommand, models.SensorFrame, models.IndicatorColors, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.pose, cs.wheels, cs.frame, cs.indicators, cs.button
}
