package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"robosim-backend/models"
)

// SchedulerConfig - 실행 스케줄러 설정
type SchedulerConfig struct {
	PollInterval     time.Duration // 대기 중 취소/일시정지 확인 간격
	StartAttempts    int           // 이전 실행 종료 대기 횟수
	StartInterval    time.Duration // 이전 실행 종료 대기 간격
	StopGrace        time.Duration // 정지 후 실행 중 표시를 강제로 지우기까지의 시간
	StopZeroesMotors bool          // 정지 시 모터 0
}

// DefaultSchedulerConfig - 기본 설정 (50회 x 100ms, 정지 유예 500ms)
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:  10 * time.Millisecond,
		StartAttempts: 50,
		StartInterval: 100 * time.Millisecond,
		StopGrace:     500 * time.Millisecond,
	}
}

// Scheduler - 제어 프로그램 실행 수명 관리
//
// 시작 버튼 게이트, 일시정지, 정지를 처리하고 프로그램의 대기 요청을
// 물리 루프와 독립된 실시간 대기로 바꾼다. 실행마다 세대 번호를 올려
// 정지 후 늦게 끝난 프로그램의 결과는 무시한다.
//
// 락 순서: pauseMu → mu. mu를 잡은 채 Simulator 메서드를 부르지 않는다
// (Simulator.Snapshot이 State를 호출한다).
type Scheduler struct {
	mu      sync.Mutex
	pauseMu sync.Mutex // 일시정지 상태와 Simulator.SetPaused 적용 순서를 맞춤
	sim     *Simulator
	sandbox Sandbox
	cfg     SchedulerConfig
	events  *EventService
	console *ConsoleBuffer

	programName string
	source      string

	// 실행 상태
	active        bool // 실행이 진행 중 (Running/Paused/AwaitingStart)
	awaitingStart bool
	paused        bool
	pauseEpoch    uint64
	stopping      bool
	programActive bool // 프로그램 고루틴이 아직 돌고 있음
	generation    uint64
	runID         string
	ctx           context.Context
	cancel        context.CancelFunc
	lastErr       error
}

// NewScheduler - 스케줄러 생성 후 시뮬레이터/버튼에 연결
func NewScheduler(sim *Simulator, sandbox Sandbox, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.PollInterval <= 0 || cfg.PollInterval > def.PollInterval {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = def.StartAttempts
	}
	if cfg.StartInterval <= 0 {
		cfg.StartInterval = def.StartInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}

	s := &Scheduler{
		sim:     sim,
		sandbox: sandbox,
		cfg:     cfg,
	}
	sim.SetRunStateSource(s.State)
	sim.Robot().OnButtonPress(s.releaseStartGate)
	return s
}

// SetEventService - 이벤트 서비스 연결
func (s *Scheduler) SetEventService(es *EventService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = es
}

// SetConsole - 콘솔 버퍼 연결
func (s *Scheduler) SetConsole(cb *ConsoleBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = cb
}

// LoadProgram - 다음 실행에 쓸 프로그램 교체
//
// 진행 중인 실행에는 영향이 없다. Sandbox가 구문 검사를 지원하면
// 잘못된 프로그램은 *ProgramLoadError로 거부한다.
func (s *Scheduler) LoadProgram(name, source string) error {
	if source == "" {
		return &ProgramLoadError{Err: ErrNoProgram}
	}
	if checker, ok := s.sandbox.(SyntaxChecker); ok {
		if err := checker.Check(source); err != nil {
			return &ProgramLoadError{Err: err}
		}
	}

	s.mu.Lock()
	s.programName = name
	s.source = source
	s.mu.Unlock()

	log.Printf("📜 프로그램 로드: %s (%d bytes)", name, len(source))
	return nil
}

// ProgramName - 로드된 프로그램 이름
func (s *Scheduler) ProgramName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programName
}

// Start - 실행 시작
//
// 이미 실행 중이면 아무것도 하지 않는다. 이전 프로그램이 아직 끝나지 않았으면
// StartAttempts x StartInterval 동안 기다린 뒤 강제로 정리한다.
// skipStartGate가 false면 버튼이 눌릴 때까지 프로그램 호출을 미룬다.
func (s *Scheduler) Start(skipStartGate bool) error {
	s.mu.Lock()
	if s.source == "" {
		s.mu.Unlock()
		return ErrNoProgram
	}
	if s.active && !s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.waitForPreviousRun()

	s.pauseMu.Lock()
	s.mu.Lock()
	if s.active && !s.stopping {
		s.mu.Unlock()
		s.pauseMu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel
	s.active = true
	s.awaitingStart = !skipStartGate
	s.paused = false
	s.pauseEpoch++
	s.stopping = false
	s.programActive = false
	s.lastErr = nil
	s.runID = uuid.New().String()
	runID := s.runID
	name := s.programName
	events := s.events
	console := s.console
	s.mu.Unlock()

	if console != nil {
		console.SetRunID(runID)
	}

	s.sim.SetPaused(false)
	s.pauseMu.Unlock()
	s.sim.Reset()
	s.sim.StartLoop()

	log.Printf("🚀 실행 시작: %s (run=%s, gate=%v)", name, runID, !skipStartGate)
	if events != nil {
		events.QueueEvent(EventRunStarted, map[string]interface{}{
			"run_id":          runID,
			"program":         name,
			"skip_start_gate": skipStartGate,
		})
	}

	if skipStartGate {
		s.launch(gen)
	} else if events != nil {
		events.QueueEvent(EventStartGateWaiting, map[string]interface{}{
			"run_id": runID,
		})
	}
	return nil
}

// waitForPreviousRun - 이전 프로그램 종료를 제한된 횟수만큼 기다림
func (s *Scheduler) waitForPreviousRun() {
	for attempt := 0; attempt < s.cfg.StartAttempts; attempt++ {
		s.mu.Lock()
		busy := s.programActive || s.stopping
		s.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(s.cfg.StartInterval)
	}

	s.mu.Lock()
	if !s.programActive && !s.stopping {
		s.mu.Unlock()
		return
	}
	stale := s.runID
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	s.programActive = false
	s.stopping = false
	s.active = false
	s.awaitingStart = false
	events := s.events
	s.mu.Unlock()

	log.Printf("⚠️ 이전 실행이 %d번 확인 후에도 끝나지 않아 강제 정리 (run=%s)", s.cfg.StartAttempts, stale)
	if events != nil {
		events.QueueEvent(EventStuckRunForced, map[string]interface{}{
			"run_id":   stale,
			"attempts": s.cfg.StartAttempts,
		})
	}
}

// releaseStartGate - 버튼 눌림 콜백
func (s *Scheduler) releaseStartGate() {
	s.mu.Lock()
	if !s.active || !s.awaitingStart || s.stopping {
		s.mu.Unlock()
		return
	}
	gen := s.generation
	runID := s.runID
	events := s.events
	s.mu.Unlock()

	if events != nil {
		events.QueueEvent(EventStartGateReleased, map[string]interface{}{
			"run_id": runID,
		})
	}
	s.launch(gen)
}

// PressStartButton - 가상 시작 버튼 (누르고 뗌)
func (s *Scheduler) PressStartButton() {
	robot := s.sim.Robot()
	robot.PressButton()
	robot.ReleaseButton()
}

// launch - 프로그램 고루틴 시작
func (s *Scheduler) launch(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.active || s.stopping || s.programActive {
		s.mu.Unlock()
		return
	}
	s.awaitingStart = false
	s.programActive = true
	ctx := s.ctx
	source := s.source
	runID := s.runID
	console := s.console
	s.mu.Unlock()

	printLine := func(line string) { log.Printf("🤖 %s", line) }
	if console != nil {
		printLine = console.Print
	}
	bot := NewBot(ctx, s.sim.Robot(), s.sim.Profile(), s.waitPause, printLine)

	go s.execute(ctx, gen, runID, source, bot)
}

// execute - 프로그램 로드 후 구동
func (s *Scheduler) execute(ctx context.Context, gen uint64, runID, source string, bot *Bot) {
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = &ProgramRuntimeError{Err: fmt.Errorf("panic: %v", r)}
		}
		s.finish(gen, runID, runErr)
	}()

	prog, err := s.sandbox.Load(source, bot)
	if err != nil {
		var loadErr *ProgramLoadError
		if errors.Is(err, ErrRunCancelled) || ctx.Err() != nil {
			runErr = ErrRunCancelled
			return
		}
		if !errors.As(err, &loadErr) {
			err = &ProgramLoadError{Err: err}
		}
		runErr = err
		return
	}
	defer prog.Close()

	runErr = s.drive(ctx, strategyFor(prog))
}

// drive - 한 단위 진행, 요청된 대기를 반복
func (s *Scheduler) drive(ctx context.Context, strategy executionStrategy) error {
	for {
		if ctx.Err() != nil {
			return ErrRunCancelled
		}
		pause, done, err := strategy.advance(ctx)
		if ctx.Err() != nil {
			return ErrRunCancelled
		}
		if err != nil {
			if errors.Is(err, ErrRunCancelled) {
				return err
			}
			var rtErr *ProgramRuntimeError
			if !errors.As(err, &rtErr) {
				err = &ProgramRuntimeError{Err: err}
			}
			return err
		}
		if done {
			return nil
		}
		if err := s.waitPause(ctx, pause); err != nil {
			return err
		}
	}
}

// finish - 프로그램 고루틴 종료 처리
func (s *Scheduler) finish(gen uint64, runID string, err error) {
	var loadErr *ProgramLoadError

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		log.Printf("⚠️ 정리된 실행의 프로그램이 늦게 끝남 (run=%s)", runID)
		return
	}
	s.programActive = false
	stopping := s.stopping
	if stopping {
		s.stopping = false
		s.active = false
		s.awaitingStart = false
	}
	isLoadErr := errors.As(err, &loadErr)
	if isLoadErr {
		s.active = false
		s.awaitingStart = false
	}
	if err != nil && !errors.Is(err, ErrRunCancelled) {
		s.lastErr = err
	}
	events := s.events
	s.mu.Unlock()

	switch {
	case stopping || errors.Is(err, ErrRunCancelled):
		log.Printf("🛑 프로그램 종료 (취소됨, run=%s)", runID)
	case isLoadErr:
		log.Printf("❌ %v", err)
		s.sim.StopLoop()
		if events != nil {
			events.QueueEvent(EventProgramLoadError, map[string]interface{}{
				"run_id": runID,
				"error":  loadErr.Err.Error(),
			})
		}
	case err != nil:
		log.Printf("❌ %v (run=%s)", err, runID)
		if events != nil {
			events.QueueEvent(EventProgramRuntimeError, map[string]interface{}{
				"run_id": runID,
				"error":  err.Error(),
			})
		}
	default:
		log.Printf("✅ 프로그램 종료 (run=%s)", runID)
		if events != nil {
			events.QueueEvent(EventProgramFinished, map[string]interface{}{
				"run_id": runID,
			})
		}
	}
}

// Stop - 실행 정지
//
// 대기 중인 모든 대기를 즉시 취소하고 물리 루프를 멈춘다. 프로그램이 아직
// 돌고 있으면 종료 시 Idle이 되며, StopGrace 안에 끝나지 않으면 강제로 정리한다.
func (s *Scheduler) Stop() {
	s.pauseMu.Lock()
	s.mu.Lock()
	wasActive := s.active || s.programActive
	cancel := s.cancel
	gen := s.generation
	runID := s.runID
	programActive := s.programActive
	s.paused = false
	s.pauseEpoch++
	if programActive {
		s.stopping = true
	} else {
		s.active = false
		s.awaitingStart = false
	}
	events := s.events
	console := s.console
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.sim.StopLoop()
	s.sim.SetPaused(false)
	s.pauseMu.Unlock()
	if s.cfg.StopZeroesMotors {
		s.sim.Robot().StopMotors()
	}
	if console != nil {
		console.Flush()
	}

	if !wasActive {
		return
	}

	log.Printf("🛑 실행 정지 (run=%s)", runID)
	if events != nil {
		events.QueueEvent(EventRunStopped, map[string]interface{}{
			"run_id": runID,
		})
	}

	if programActive {
		time.AfterFunc(s.cfg.StopGrace, func() { s.clearStuckStop(gen) })
	}
}

// clearStuckStop - 유예 시간 뒤에도 정지 중이면 강제로 Idle
func (s *Scheduler) clearStuckStop(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.stopping {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.stopping = false
	s.programActive = false
	s.active = false
	s.awaitingStart = false
	runID := s.runID
	s.mu.Unlock()

	log.Printf("⚠️ 정지 유예 %v 초과, 실행 중 표시 강제 해제 (run=%s)", s.cfg.StopGrace, runID)
}

// TogglePause - 일시정지 전환, 새 일시정지 여부를 돌려준다
//
// 실행 중이 아니면 아무것도 하지 않는다.
func (s *Scheduler) TogglePause() bool {
	s.pauseMu.Lock()
	s.mu.Lock()
	if !s.active || s.stopping {
		s.mu.Unlock()
		s.pauseMu.Unlock()
		return false
	}
	s.paused = !s.paused
	s.pauseEpoch++
	paused := s.paused
	runID := s.runID
	events := s.events
	s.mu.Unlock()

	s.sim.SetPaused(paused)
	s.pauseMu.Unlock()

	eventType := EventRunResumed
	if paused {
		eventType = EventRunPaused
		log.Printf("⏸️ 일시정지 (run=%s)", runID)
	} else {
		log.Printf("▶️ 재개 (run=%s)", runID)
	}
	if events != nil {
		events.QueueEvent(eventType, map[string]interface{}{
			"run_id": runID,
		})
	}
	return paused
}

// waitPause - 취소/일시정지를 지키는 대기
//
// PollInterval마다 깨어나 취소를 확인한다. 구간 동안 일시정지 상태가 바뀌지
// 않았고 일시정지가 아니었던 구간만 경과 시간으로 센다.
func (s *Scheduler) waitPause(ctx context.Context, d time.Duration) error {
	remaining := d
	for remaining > 0 {
		step := s.cfg.PollInterval
		if remaining < step {
			step = remaining
		}

		paused, epoch := s.pauseState()
		started := time.Now()
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrRunCancelled
		case <-timer.C:
		}

		pausedAfter, epochAfter := s.pauseState()
		if !paused && !pausedAfter && epoch == epochAfter {
			remaining -= time.Since(started)
		}
	}

	if ctx.Err() != nil {
		return ErrRunCancelled
	}
	return nil
}

func (s *Scheduler) pauseState() (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.pauseEpoch
}

// SwapMap - 맵 교체. 실행 중이었다면 시작 게이트 없이 다시 시작한다
func (s *Scheduler) SwapMap(m *models.Map) error {
	if err := ValidateMap(m); err != nil {
		return err
	}

	wasRunning := s.State() != models.RunStateIdle
	if wasRunning {
		s.Stop()
	}
	if err := s.sim.UpdateMap(m); err != nil {
		return err
	}
	if wasRunning {
		return s.Start(true)
	}
	return nil
}

// State - 현재 실행 상태
func (s *Scheduler) State() models.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Scheduler) stateLocked() models.RunState {
	switch {
	case s.stopping:
		return models.RunStateStopping
	case !s.active:
		return models.RunStateIdle
	case s.paused:
		return models.RunStatePaused
	case s.awaitingStart:
		return models.RunStateAwaitingStart
	default:
		return models.RunStateRunning
	}
}

// ProgramActive - 프로그램 고루틴이 아직 돌고 있는지
func (s *Scheduler) ProgramActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programActive
}

// LastError - 마지막 실행의 로드/실행 오류
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Status - 실행 상태 요약
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"run_state":      s.stateLocked(),
		"run_id":         s.runID,
		"program":        s.programName,
		"program_loaded": s.source != "",
		"program_active": s.programActive,
	}
	if s.lastErr != nil {
		status["last_error"] = s.lastErr.Error()
	}
	return status
}
