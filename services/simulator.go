package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"robosim-backend/algorithms"
	"robosim-backend/models"
)

// SimulatorConfig - 물리/렌더 루프 설정
type SimulatorConfig struct {
	TickInterval  time.Duration // 0이면 백그라운드 루프 없이 Step을 직접 호출한다
	MaxDt         time.Duration // 한 틱 dt 상한
	FrameInterval time.Duration // 프레임 브로드캐스트 최소 간격
}

// DefaultSimulatorConfig - 기본 루프 설정 (약 60Hz)
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		TickInterval:  16 * time.Millisecond,
		MaxDt:         50 * time.Millisecond,
		FrameInterval: 50 * time.Millisecond,
	}
}

// Simulator - 로봇 시뮬레이터 인스턴스
//
// 맵, 로봇 프로필, 컨트롤 서피스, 물리 루프를 소유한다.
// 전역 싱글턴 대신 main에서 만들어 핸들러와 스케줄러에 넘긴다.
type Simulator struct {
	mu       sync.RWMutex
	world    *models.Map
	profile  algorithms.RobotProfile
	cfg      SimulatorConfig
	robot    *ControlSurface
	paused   bool
	tick     uint64
	lastSign string

	broadcastFunc func(models.WebSocketMessage)
	events        *EventService
	runState      func() models.RunState

	// 루프 제어
	loopMu    sync.Mutex
	looping   bool
	stopChan  chan struct{}
	done      chan struct{}
	lastFrame time.Time
}

// NewSimulator - 시뮬레이터 생성
func NewSimulator(world *models.Map, profile algorithms.RobotProfile, cfg SimulatorConfig, broadcastFunc func(models.WebSocketMessage)) (*Simulator, error) {
	if err := ValidateMap(world); err != nil {
		return nil, err
	}
	s := &Simulator{
		world:         world,
		profile:       profile.Normalize(),
		cfg:           cfg,
		robot:         NewControlSurface(world.Start),
		broadcastFunc: broadcastFunc,
		lastSign:      models.SignNone,
	}
	s.robot.reset(world.Start, world, s.profile)
	return s, nil
}

// SetEventService - 이벤트 서비스 연결
func (s *Simulator) SetEventService(es *EventService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = es
}

// SetRunStateSource - 프레임에 실을 실행 상태 제공자 (스케줄러)
func (s *Simulator) SetRunStateSource(fn func() models.RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runState = fn
}

// Robot - 컨트롤 서피스
func (s *Simulator) Robot() *ControlSurface {
	return s.robot
}

// Profile - 로봇 프로필
func (s *Simulator) Profile() algorithms.RobotProfile {
	return s.profile
}

// Map - 현재 맵
func (s *Simulator) Map() *models.Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world
}

// UpdateMap - 맵 교체 후 새 시작 위치로 리셋
//
// 검증을 통과해야만 교체한다. 실행 중인 프로그램은 같은 컨트롤 서피스에 그대로 붙어 있다.
func (s *Simulator) UpdateMap(m *models.Map) error {
	if err := ValidateMap(m); err != nil {
		return err
	}

	s.mu.Lock()
	s.world = m
	s.resetLocked()
	events := s.events
	s.mu.Unlock()

	log.Printf("🗺️ 맵 교체: %s (zones=%d, lamps=%d, obstacles=%d)",
		m.ID, len(m.CameraZones), len(m.Lamps), len(m.Obstacles))

	if events != nil {
		events.QueueEvent(EventMapUpdated, map[string]interface{}{
			"map_id": m.ID,
		})
	}
	s.broadcast(models.MessageTypeMapUpdate, models.MapUpdateMessage{
		MapID:       m.ID,
		Width:       m.Width,
		Height:      m.Height,
		CameraZones: m.CameraZones,
		Lamps:       m.Lamps,
		Obstacles:   m.Obstacles,
		Start:       m.Start,
	})
	return nil
}

// Reset - 시작 자세로 복귀 (바퀴/엔코더 0)
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Simulator) resetLocked() {
	s.robot.reset(s.world.Start, s.world, s.profile)
	s.lastSign = models.SignNone
}

// SetPaused - 일시정지 플래그 (물리 틱 건너뜀)
func (s *Simulator) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Paused - 일시정지 여부
func (s *Simulator) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Step - 물리 한 틱 진행 (dt: 초)
func (s *Simulator) Step(dt float64) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	if dt < 0 {
		dt = 0
	}
	if maxDt := s.cfg.MaxDt.Seconds(); maxDt > 0 && dt > maxDt {
		dt = maxDt
	}
	frame := s.robot.advance(s.world, s.profile, dt)
	s.tick++

	prevSign := s.lastSign
	s.lastSign = frame.SignLabel
	events := s.events
	s.mu.Unlock()

	if events != nil && frame.SignLabel != prevSign && frame.SignLabel != models.SignNone {
		events.QueueEvent(EventSignDetected, map[string]interface{}{
			"label": frame.SignLabel,
		})
	}
}

// Snapshot - 현재 상태 프레임
func (s *Simulator) Snapshot() models.SimFrame {
	s.mu.RLock()
	tick := s.tick
	paused := s.paused
	runState := s.runState
	s.mu.RUnlock()

	pose, wheels, frame, leds, button := s.robot.snapshot()
	state := models.RunStateIdle
	if runState != nil {
		state = runState()
	}
	return models.SimFrame{
		Tick:       tick,
		RunState:   state,
		Pose:       pose,
		Wheels:     wheels,
		Sensors:    frame,
		Indicators: leds,
		Button:     button,
		Paused:     paused,
	}
}

// StartLoop - 물리/렌더 루프 시작
func (s *Simulator) StartLoop() {
	if s.cfg.TickInterval <= 0 {
		return
	}

	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.looping {
		return
	}
	s.looping = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	log.Printf("🚀 물리 루프 시작 (tick=%v)", s.cfg.TickInterval)
	go s.runSimulation(s.stopChan, s.done)
}

// StopLoop - 물리/렌더 루프 즉시 중지
func (s *Simulator) StopLoop() {
	s.loopMu.Lock()
	if !s.looping {
		s.loopMu.Unlock()
		return
	}
	s.looping = false
	stop, done := s.stopChan, s.done
	s.loopMu.Unlock()

	close(stop)
	<-done
	s.broadcastFrame()
	log.Println("🛑 물리 루프 중지")
}

// IsLooping - 루프 동작 여부
func (s *Simulator) IsLooping() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.looping
}

// runSimulation - 물리/렌더 메인 루프
func (s *Simulator) runSimulation(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			s.safeStep(dt)
			if now.Sub(s.lastFrame) >= s.cfg.FrameInterval {
				s.lastFrame = now
				s.broadcastFrame()
			}
		}
	}
}

func (s *Simulator) safeStep(dt float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ 물리 틱 패닉: %v", r)
		}
	}()
	s.Step(dt)
}

// broadcastFrame - 프레임 브로드캐스트
func (s *Simulator) broadcastFrame() {
	s.broadcast(models.MessageTypeFrame, s.Snapshot())
}

func (s *Simulator) broadcast(msgType string, data interface{}) {
	if s.broadcastFunc == nil {
		return
	}
	s.broadcastFunc(models.WebSocketMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// GetStatus - 현재 상태 요약
func (s *Simulator) GetStatus() map[string]interface{} {
	frame := s.Snapshot()
	world := s.Map()
	return map[string]interface{}{
		"run_state":  frame.RunState,
		"looping":    s.IsLooping(),
		"paused":     frame.Paused,
		"tick":       frame.Tick,
		"pose":       frame.Pose,
		"wheels":     frame.Wheels,
		"sensors":    frame.Sensors,
		"indicators": frame.Indicators,
		"button":     frame.Button,
		"map_id":     world.ID,
	}
}

// ValidateMap - 설치 전 맵 검증
func ValidateMap(m *models.Map) error {
	if m == nil {
		return fmt.Errorf("%w: map is nil", ErrMalformedMapFile)
	}
	if m.Width != models.MapWidth || m.Height != models.MapHeight {
		return fmt.Errorf("%w: got %dx%d, simulator is %dx%d",
			ErrMapDimensions, m.Width, m.Height, models.MapWidth, models.MapHeight)
	}
	if len(m.Pixels) != m.Width*m.Height*4 {
		return fmt.Errorf("%w: expected %d bytes, got %d",
			ErrMalformedMapImage, m.Width*m.Height*4, len(m.Pixels))
	}
	return nil
}
