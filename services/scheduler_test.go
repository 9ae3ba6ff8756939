package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robosim-backend/models"
)

// fakeProgram - 스크립트로 동작을 정하는 테스트용 프로그램
type fakeProgram struct {
	kind  ProgramKind
	bot   *Bot
	run   func(ctx context.Context, bot *Bot) error
	steps []func(bot *Bot) time.Duration
	idx   int
}

func (p *fakeProgram) Kind() ProgramKind { return p.kind }

func (p *fakeProgram) Run(ctx context.Context) error {
	return p.run(ctx, p.bot)
}

func (p *fakeProgram) Step(ctx context.Context) (time.Duration, bool, error) {
	if p.idx >= len(p.steps) {
		return 0, true, nil
	}
	pause := p.steps[p.idx](p.bot)
	p.idx++
	return pause, false, nil
}

func (p *fakeProgram) Close() {}

// fakeSandbox - 로드할 때마다 make로 새 프로그램 생성
type fakeSandbox struct {
	make  func(bot *Bot) (Program, error)
	loads atomic.Int32
}

func (s *fakeSandbox) Load(source string, bot *Bot) (Program, error) {
	s.loads.Add(1)
	return s.make(bot)
}

func plainProgram(run func(ctx context.Context, bot *Bot) error) *fakeSandbox {
	return &fakeSandbox{make: func(bot *Bot) (Program, error) {
		return &fakeProgram{kind: ProgramPlain, bot: bot, run: run}, nil
	}}
}

func steppedProgram(steps ...func(bot *Bot) time.Duration) *fakeSandbox {
	return &fakeSandbox{make: func(bot *Bot) (Program, error) {
		return &fakeProgram{kind: ProgramStepped, bot: bot, steps: steps}, nil
	}}
}

// entrySignal - 프로그램 본문 진입을 알리는 채널 (여러 번 불려도 안전)
func entrySignal() (<-chan struct{}, func()) {
	ch := make(chan struct{})
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

func waitEntered(t *testing.T, entered <-chan struct{}) {
	t.Helper()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("program body was not entered")
	}
}

func fastSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:  2 * time.Millisecond,
		StartAttempts: 5,
		StartInterval: 10 * time.Millisecond,
		StopGrace:     100 * time.Millisecond,
	}
}

func newTestScheduler(t *testing.T, sandbox Sandbox, cfg SchedulerConfig) (*Scheduler, *Simulator, *recorder) {
	t.Helper()
	rec := &recorder{}
	sim := newTestSimulator(t, rec)
	events := NewEventService(rec.broadcast)
	events.Start()
	t.Cleanup(events.Stop)
	sim.SetEventService(events)

	sched := NewScheduler(sim, sandbox, cfg)
	sched.SetEventService(events)
	require.NoError(t, sched.LoadProgram("test.js", "function run_robot(bot) {}"))
	t.Cleanup(sched.Stop)
	return sched, sim, rec
}

func TestSchedulerStartWithoutProgram(t *testing.T) {
	sim := newTestSimulator(t, nil)
	sched := NewScheduler(sim, plainProgram(nil), fastSchedulerConfig())

	assert.ErrorIs(t, sched.Start(true), ErrNoProgram)
	assert.Equal(t, models.RunStateIdle, sched.State())
}

func TestSchedulerStartGate(t *testing.T) {
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		bot.SetWheelSpeeds(100, 100)
		return bot.RequestPause(10)
	})
	sched, sim, rec := newTestScheduler(t, sandbox, fastSchedulerConfig())
	start := sim.Robot().Pose()

	// 1. 게이트 대기 중에는 프로그램이 실행되지 않는다
	require.NoError(t, sched.Start(false))
	assert.Equal(t, models.RunStateAwaitingStart, sched.State())

	for i := 0; i < 5; i++ {
		sim.Step(0.02)
	}
	assert.Equal(t, models.WheelCommand{}, sim.Robot().Wheels())
	assert.Equal(t, start, sim.Robot().Pose())
	assert.Zero(t, sandbox.loads.Load())

	// 2. 버튼을 누르면 프로그램 시작
	sched.PressStartButton()
	assert.Eventually(t, func() bool {
		return sim.Robot().Wheels() == models.WheelCommand{Left: 100, Right: 100}
	}, time.Second, time.Millisecond)
	assert.Equal(t, models.RunStateRunning, sched.State())

	// 3. 다음 물리 틱에서 반영
	sim.Step(0.02)
	assert.NotEqual(t, start, sim.Robot().Pose())

	assert.Eventually(t, func() bool {
		return rec.hasEvent(EventStartGateWaiting) && rec.hasEvent(EventStartGateReleased)
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerSkipStartGate(t *testing.T) {
	ran := make(chan struct{})
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		close(ran)
		return nil
	})
	sched, _, rec := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("program did not run")
	}

	assert.Eventually(t, func() bool {
		return !sched.ProgramActive() && rec.hasEvent(EventProgramFinished)
	}, time.Second, time.Millisecond)
	// 정상 종료 후에도 정지 전까지는 Running
	assert.Equal(t, models.RunStateRunning, sched.State())
}

func TestSchedulerStartWhileRunningIsNoop(t *testing.T) {
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		return bot.RequestPause(10)
	})
	sched, _, _ := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	runID := sched.Status()["run_id"]

	require.NoError(t, sched.Start(true))
	assert.Equal(t, runID, sched.Status()["run_id"])
	assert.Eventually(t, func() bool {
		return sandbox.loads.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestSchedulerPauseExtendsWait(t *testing.T) {
	done := make(chan time.Duration, 1)
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		started := time.Now()
		err := bot.RequestPause(0.2)
		done <- time.Since(started)
		return err
	})
	sched, _, _ := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	time.Sleep(50 * time.Millisecond)

	require.True(t, sched.TogglePause())
	assert.Equal(t, models.RunStatePaused, sched.State())
	time.Sleep(100 * time.Millisecond)
	require.False(t, sched.TogglePause())

	select {
	case elapsed := <-done:
		// 요청 200ms + 일시정지 100ms
		assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not finish")
	}
}

func TestSchedulerStopCancelsWait(t *testing.T) {
	var continued atomic.Bool
	waitErr := make(chan error, 1)
	entered, enter := entrySignal()
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		enter()
		err := bot.RequestPause(5)
		waitErr <- err
		if err != nil {
			return err
		}
		continued.Store(true)
		return nil
	})
	sched, sim, rec := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	waitEntered(t, entered)

	stoppedAt := time.Now()
	sched.Stop()

	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, ErrRunCancelled)
	case <-time.After(time.Second):
		t.Fatal("wait was not cancelled")
	}

	assert.Eventually(t, func() bool {
		return sched.State() == models.RunStateIdle
	}, time.Second, time.Millisecond)
	assert.Less(t, time.Since(stoppedAt), 500*time.Millisecond)
	assert.False(t, continued.Load())
	assert.False(t, sim.IsLooping())
	assert.NoError(t, sched.LastError())

	assert.Eventually(t, func() bool {
		return rec.hasEvent(EventRunStopped)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, rec.hasEvent(EventProgramRuntimeError))
}

func TestSchedulerStopCancelsSteppedContinuation(t *testing.T) {
	var continued atomic.Bool
	sandbox := steppedProgram(
		func(bot *Bot) time.Duration {
			bot.SetWheelSpeeds(40, 40)
			return 5 * time.Second
		},
		func(bot *Bot) time.Duration {
			continued.Store(true)
			return 0
		},
	)
	sched, sim, _ := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	require.Eventually(t, func() bool {
		return sim.Robot().Wheels().Left == 40
	}, time.Second, time.Millisecond)

	sched.Stop()
	assert.Eventually(t, func() bool {
		return sched.State() == models.RunStateIdle
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, continued.Load())
}

func TestSchedulerSteppedProgramRunsToCompletion(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	step := func(n int) func(bot *Bot) time.Duration {
		return func(bot *Bot) time.Duration {
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
			bot.SetWheelSpeeds(float64(n*10), 0)
			return 10 * time.Millisecond
		}
	}
	sched, sim, rec := newTestScheduler(t, steppedProgram(step(1), step(2), step(3)), fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	assert.Eventually(t, func() bool {
		return rec.hasEvent(EventProgramFinished)
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, seen)
	mu.Unlock()
	assert.Equal(t, 30.0, sim.Robot().Wheels().Left)
	assert.False(t, sched.ProgramActive())
}

func TestSchedulerLoadErrorAbortsRun(t *testing.T) {
	sandbox := &fakeSandbox{make: func(bot *Bot) (Program, error) {
		return nil, &ProgramLoadError{Err: ErrNoEntryPoint}
	}}
	sched, sim, rec := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	assert.Eventually(t, func() bool {
		return sched.State() == models.RunStateIdle
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, sched.LastError(), ErrNoEntryPoint)
	var loadErr *ProgramLoadError
	assert.ErrorAs(t, sched.LastError(), &loadErr)
	assert.False(t, sim.IsLooping())
	assert.Eventually(t, func() bool {
		return rec.hasEvent(EventProgramLoadError)
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerRuntimeErrorLeavesRobotAsIs(t *testing.T) {
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		bot.SetWheelSpeeds(30, 30)
		return errors.New("boom")
	})
	sched, sim, rec := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	assert.Eventually(t, func() bool {
		return sched.LastError() != nil
	}, time.Second, time.Millisecond)

	var rtErr *ProgramRuntimeError
	require.ErrorAs(t, sched.LastError(), &rtErr)
	assert.Contains(t, rtErr.Error(), "boom")
	assert.False(t, sched.ProgramActive())

	// 모터는 자동으로 멈추지 않는다
	assert.Equal(t, models.WheelCommand{Left: 30, Right: 30}, sim.Robot().Wheels())
	assert.Equal(t, models.RunStateRunning, sched.State())
	assert.Eventually(t, func() bool {
		return rec.hasEvent(EventProgramRuntimeError)
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerRecoversProgramPanic(t *testing.T) {
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		panic("kaboom")
	})
	sched, _, _ := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	assert.Eventually(t, func() bool {
		return sched.LastError() != nil
	}, time.Second, time.Millisecond)

	var rtErr *ProgramRuntimeError
	assert.ErrorAs(t, sched.LastError(), &rtErr)
	assert.Contains(t, sched.LastError().Error(), "kaboom")
}

func TestSchedulerStopGraceForcesIdle(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	entered, enter := entrySignal()
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		enter()
		<-release // 취소를 무시하는 프로그램
		return nil
	})
	cfg := fastSchedulerConfig()
	cfg.StopGrace = 50 * time.Millisecond
	sched, _, _ := newTestScheduler(t, sandbox, cfg)

	require.NoError(t, sched.Start(true))
	waitEntered(t, entered)

	sched.Stop()
	assert.Equal(t, models.RunStateStopping, sched.State())
	assert.Eventually(t, func() bool {
		return sched.State() == models.RunStateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerForcesStuckRunOnStart(t *testing.T) {
	release := make(chan struct{})
	var wroteAfterCancel atomic.Bool
	entered, enter := entrySignal()
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		enter()
		<-release
		bot.SetWheelSpeeds(80, 80)
		wroteAfterCancel.Store(true)
		return nil
	})
	cfg := fastSchedulerConfig()
	cfg.StopGrace = 10 * time.Second
	sched, sim, rec := newTestScheduler(t, sandbox, cfg)

	require.NoError(t, sched.Start(true))
	waitEntered(t, entered)
	sched.Stop()
	require.Equal(t, models.RunStateStopping, sched.State())

	// 이전 프로그램이 끝나지 않아도 제한 시간 후 새 실행이 시작된다
	began := time.Now()
	require.NoError(t, sched.Start(true))
	assert.GreaterOrEqual(t, time.Since(began), time.Duration(cfg.StartAttempts)*cfg.StartInterval)
	assert.Equal(t, models.RunStateRunning, sched.State())
	assert.Eventually(t, func() bool {
		return rec.hasEvent(EventStuckRunForced)
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return sandbox.loads.Load() == 2
	}, time.Second, time.Millisecond)

	// 정리된 실행의 늦은 쓰기는 무시되고 새 실행 상태도 바뀌지 않는다
	sched.Stop()
	close(release)
	assert.Eventually(t, func() bool {
		return sched.State() == models.RunStateIdle
	}, time.Second, time.Millisecond)
	assert.Eventually(t, wroteAfterCancel.Load, time.Second, time.Millisecond)
	assert.Equal(t, models.WheelCommand{}, sim.Robot().Wheels())
}

func TestSchedulerStopZeroesMotorsPolicy(t *testing.T) {
	for _, zero := range []bool{false, true} {
		sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
			bot.SetWheelSpeeds(60, 60)
			return bot.RequestPause(10)
		})
		cfg := fastSchedulerConfig()
		cfg.StopZeroesMotors = zero
		sched, sim, _ := newTestScheduler(t, sandbox, cfg)

		require.NoError(t, sched.Start(true))
		require.Eventually(t, func() bool {
			return sim.Robot().Wheels().Left == 60
		}, time.Second, time.Millisecond)
		sched.Stop()

		if zero {
			assert.Equal(t, models.WheelCommand{}, sim.Robot().Wheels())
		} else {
			assert.Equal(t, models.WheelCommand{Left: 60, Right: 60}, sim.Robot().Wheels())
		}
	}
}

func TestSchedulerTogglePauseWhenIdle(t *testing.T) {
	sched, sim, _ := newTestScheduler(t, plainProgram(nil), fastSchedulerConfig())

	assert.False(t, sched.TogglePause())
	assert.Equal(t, models.RunStateIdle, sched.State())
	assert.False(t, sim.Paused())
}

func TestSchedulerPauseFreezesPhysics(t *testing.T) {
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		bot.SetWheelSpeeds(100, 100)
		return bot.RequestPause(10)
	})
	sched, sim, _ := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	require.Eventually(t, func() bool {
		return sim.Robot().Wheels().Left == 100
	}, time.Second, time.Millisecond)

	sched.TogglePause()
	pose := sim.Robot().Pose()
	sim.Step(0.02)
	assert.Equal(t, pose, sim.Robot().Pose())
	assert.Equal(t, models.RunStatePaused, sim.Snapshot().RunState)
}

func TestSchedulerSwapMapRestartsRun(t *testing.T) {
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		return bot.RequestPause(10)
	})
	sched, sim, _ := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(false))
	require.Equal(t, models.RunStateAwaitingStart, sched.State())

	m := NewMapGenerator().DefaultTrack()
	require.NoError(t, sched.SwapMap(m))

	// 게이트 없이 재시작
	assert.Equal(t, models.RunStateRunning, sched.State())
	assert.Same(t, m, sim.Map())
	assert.Eventually(t, func() bool {
		return sandbox.loads.Load() == 1
	}, time.Second, time.Millisecond)

	// 잘못된 맵은 아무것도 바꾸지 않는다
	bad := &models.Map{Width: 10, Height: 10}
	assert.ErrorIs(t, sched.SwapMap(bad), ErrMapDimensions)
	assert.Same(t, m, sim.Map())
}

func TestWaitPauseNeverUnderWaits(t *testing.T) {
	sim := newTestSimulator(t, nil)
	sched := NewScheduler(sim, plainProgram(nil), fastSchedulerConfig())

	started := time.Now()
	require.NoError(t, sched.waitPause(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sched.waitPause(ctx, time.Second), ErrRunCancelled)
}

func TestSecondsToDurationSaturates(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    time.Duration
	}{
		{"fractional", 1.5, 1500 * time.Millisecond},
		{"zero", 0, 0},
		{"negative", -3, 0},
		{"NaN", math.NaN(), 0},
		{"-Inf", math.Inf(-1), 0},
		{"beyond range", 1e10, time.Duration(math.MaxInt64)},
		{"+Inf", math.Inf(1), time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SecondsToDuration(tt.seconds))
		})
	}
}

func TestSchedulerHugePauseDoesNotReturnEarly(t *testing.T) {
	for _, seconds := range []float64{1e10, math.Inf(1)} {
		var continued atomic.Bool
		entered, enter := entrySignal()
		sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
			enter()
			if err := bot.RequestPause(seconds); err != nil {
				return err
			}
			continued.Store(true)
			return nil
		})
		sched, _, _ := newTestScheduler(t, sandbox, fastSchedulerConfig())

		require.NoError(t, sched.Start(true))
		waitEntered(t, entered)
		time.Sleep(50 * time.Millisecond)
		assert.False(t, continued.Load(), "seconds=%v", seconds)
		assert.True(t, sched.ProgramActive(), "seconds=%v", seconds)

		sched.Stop()
		assert.Eventually(t, func() bool {
			return sched.State() == models.RunStateIdle
		}, time.Second, time.Millisecond)
		assert.False(t, continued.Load())
	}
}

func TestSchedulerCancelledLoadIsNotAnError(t *testing.T) {
	sandbox := &fakeSandbox{make: func(bot *Bot) (Program, error) {
		return nil, ErrRunCancelled
	}}
	sched, _, rec := newTestScheduler(t, sandbox, fastSchedulerConfig())

	require.NoError(t, sched.Start(true))
	assert.Eventually(t, func() bool {
		return sandbox.loads.Load() == 1 && !sched.ProgramActive()
	}, time.Second, time.Millisecond)

	assert.NoError(t, sched.LastError())
	time.Sleep(20 * time.Millisecond)
	assert.False(t, rec.hasEvent(EventProgramLoadError))
}

func TestSchedulerStopWinsOverConcurrentPause(t *testing.T) {
	sandbox := plainProgram(func(ctx context.Context, bot *Bot) error {
		return bot.RequestPause(10)
	})
	sched, sim, _ := newTestScheduler(t, sandbox, fastSchedulerConfig())

	for i := 0; i < 20; i++ {
		require.NoError(t, sched.Start(true))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sched.TogglePause()
			}
		}()
		go func() {
			defer wg.Done()
			sched.Stop()
		}()
		wg.Wait()

		require.Eventually(t, func() bool {
			return sched.State() == models.RunStateIdle
		}, time.Second, time.Millisecond)
		assert.False(t, sim.Paused(), "iteration %d", i)
	}
}
