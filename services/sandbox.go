package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProgramKind - 제어 프로그램 실행 형태
type ProgramKind int

const (
	// ProgramPlain - 한 번 호출로 끝까지 실행. 대기는 bot.sleep 안에서 협조적으로 처리
	ProgramPlain ProgramKind = iota
	// ProgramStepped - 단계별로 재개. 각 단계가 다음 대기 시간을 돌려준다
	ProgramStepped
)

func (k ProgramKind) String() string {
	switch k {
	case ProgramPlain:
		return "plain"
	case ProgramStepped:
		return "stepped"
	default:
		return fmt.Sprintf("ProgramKind(%d)", int(k))
	}
}

// 실행 오류
var (
	ErrNoEntryPoint = errors.New("program does not define run_robot")
	ErrRunCancelled = errors.New("run cancelled")
	ErrNoProgram    = errors.New("no program loaded")
)

// ProgramLoadError - 프로그램을 불러오지 못함 (구문 오류, 진입점 없음)
type ProgramLoadError struct {
	Err error
}

func (e *ProgramLoadError) Error() string { return "program load failed: " + e.Err.Error() }
func (e *ProgramLoadError) Unwrap() error { return e.Err }

// ProgramRuntimeError - 실행 중 프로그램이 비정상 종료
type ProgramRuntimeError struct {
	Err error
}

func (e *ProgramRuntimeError) Error() string { return "program raised: " + e.Err.Error() }
func (e *ProgramRuntimeError) Unwrap() error { return e.Err }

// Sandbox - 제어 프로그램을 해석/실행하는 격리 환경
//
// Load는 프로그램 텍스트를 bot에 묶인 실행 단위로 만든다. 실패하면
// *ProgramLoadError를, 로드 중 실행이 취소되면 ErrRunCancelled를 돌려준다.
type Sandbox interface {
	Load(source string, bot *Bot) (Program, error)
}

// SyntaxChecker - 업로드 시점 구문 검사를 지원하는 Sandbox
type SyntaxChecker interface {
	Check(source string) error
}

// Program - 불러온 제어 프로그램
//
// ProgramPlain이면 Run만, ProgramStepped이면 Step만 호출된다.
// Step은 다음 대기 시간과 종료 여부를 돌려준다.
type Program interface {
	Kind() ProgramKind
	Run(ctx context.Context) error
	Step(ctx context.Context) (pause time.Duration, done bool, err error)
	Close()
}

// executionStrategy - "한 단위 진행 후 요청된 대기" 구동 인터페이스
type executionStrategy interface {
	advance(ctx context.Context) (pause time.Duration, done bool, err error)
}

// plainStrategy - 한 번의 호출이 곧 전체 진행
type plainStrategy struct {
	prog Program
}

func (p plainStrategy) advance(ctx context.Context) (time.Duration, bool, error) {
	return 0, true, p.prog.Run(ctx)
}

// steppedStrategy - 단계마다 재개
type steppedStrategy struct {
	prog Program
}

func (p steppedStrategy) advance(ctx context.Context) (time.Duration, bool, error) {
	return p.prog.Step(ctx)
}

// strategyFor - 프로그램 형태에 맞는 구동 방식
func strategyFor(prog Program) executionStrategy {
	if prog.Kind() == ProgramStepped {
		return steppedStrategy{prog: prog}
	}
	return plainStrategy{prog: prog}
}
