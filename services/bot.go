package services

import (
	"context"
	"log"
	"math"
	"time"

	"robosim-backend/algorithms"
	"robosim-backend/models"
)

// PauseFunc - 협조적 대기 (취소 시 ErrRunCancelled)
type PauseFunc func(ctx context.Context, d time.Duration) error

// Bot - 실행 한 번에 묶인 로봇 제어 핸들
//
// 제어 프로그램은 이 핸들로만 로봇에 접근한다. 실행이 취소되면 쓰기는
// 무시되므로 정지 후에도 남아 있는 프로그램이 로봇을 움직이지 못한다.
// 읽기는 마지막으로 계산된 센서 프레임을 그대로 돌려준다.
type Bot struct {
	ctx     context.Context
	robot   *ControlSurface
	profile algorithms.RobotProfile
	pause   PauseFunc
	print   func(string)
}

// NewBot - 실행 핸들 생성
func NewBot(ctx context.Context, robot *ControlSurface, profile algorithms.RobotProfile, pause PauseFunc, print func(string)) *Bot {
	return &Bot{
		ctx:     ctx,
		robot:   robot,
		profile: profile.Normalize(),
		pause:   pause,
		print:   print,
	}
}

// Context - 실행 컨텍스트
func (b *Bot) Context() context.Context {
	return b.ctx
}

// Cancelled - 실행 취소 여부
func (b *Bot) Cancelled() bool {
	return b.ctx.Err() != nil
}

// SetWheelSpeeds - 바퀴 속도 (-100..100)
func (b *Bot) SetWheelSpeeds(left, right float64) {
	if b.Cancelled() {
		return
	}
	b.robot.SetWheelSpeeds(left, right)
}

// StopMotors - 양쪽 모터 정지
func (b *Bot) StopMotors() {
	if b.Cancelled() {
		return
	}
	b.robot.StopMotors()
}

func (b *Bot) ReadLineLeft() int { return b.robot.Frame().LineLeft }
func (b *Bot) ReadLineCenter() int { return b.robot.Frame().LineCenter }
func (b *Bot) ReadLineRight() int { return b.robot.Frame().LineRight }

// ReadRange - 전방 거리 (px, 최대 RangeMax)
func (b *Bot) ReadRange() float64 { return b.robot.Frame().Range }

// ReadRangeRaw - 거리 센서 ADC 값 (가까울수록 큼)
func (b *Bot) ReadRangeRaw() int {
	return algorithms.RangeToADC(b.robot.Frame().Range, b.profile)
}

func (b *Bot) ReadLight() int { return b.robot.Frame().Light }
func (b *Bot) ReadSignLabel() string { return b.robot.Frame().SignLabel }
func (b *Bot) ReadEncoderLeft() int { return b.robot.Frame().EncoderLeft }
func (b *Bot) ReadEncoderRight() int { return b.robot.Frame().EncoderRight }
func (b *Bot) IsButtonPressed() bool { return b.robot.ButtonPressed() }

// SetIndicatorColors - LED 4개 색상
func (b *Bot) SetIndicatorColors(colors models.IndicatorColors) {
	if b.Cancelled() {
		return
	}
	b.robot.SetIndicatorColors(colors)
}

// FillIndicators - LED 전체 한 색
func (b *Bot) FillIndicators(c models.RGB) {
	if b.Cancelled() {
		return
	}
	b.robot.FillIndicators(c)
}

// SetIndicator - LED 하나
func (b *Bot) SetIndicator(i int, c models.RGB) {
	if b.Cancelled() {
		return
	}
	b.robot.SetIndicator(i, c)
}

// PressButton - 프로그램에서 버튼 누름
func (b *Bot) PressButton() {
	if b.Cancelled() {
		return
	}
	b.robot.PressButton()
}

// ReleaseButton - 프로그램에서 버튼 뗌
func (b *Bot) ReleaseButton() {
	if b.Cancelled() {
		return
	}
	b.robot.ReleaseButton()
}

// RequestPause - seconds 동안 협조적으로 대기
//
// 일시정지된 시간은 대기 시간에 포함되지 않는다. 정지되면 ErrRunCancelled.
func (b *Bot) RequestPause(seconds float64) error {
	if b.Cancelled() {
		return ErrRunCancelled
	}
	if seconds <= 0 || b.pause == nil {
		return nil
	}
	return b.pause(b.ctx, SecondsToDuration(seconds))
}

// SecondsToDuration - 초를 대기 시간으로. 표현 범위를 넘으면 최댓값, NaN/음수는 0
func SecondsToDuration(seconds float64) time.Duration {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	ns := seconds * float64(time.Second)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// Print - 콘솔 출력
func (b *Bot) Print(line string) {
	if b.Cancelled() {
		return
	}
	if b.print == nil {
		log.Printf("🤖 %s", line)
		return
	}
	b.print(line)
}
