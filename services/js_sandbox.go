package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dop251/goja"

	"robosim-backend/models"
)

// 제어 프로그램 진입점
const EntryPoint = "run_robot"

const isGeneratorSrc = `(function (f) {
	return typeof f === "function" && !!f.constructor && f.constructor.name === "GeneratorFunction";
})`

// JSSandbox - goja 기반 JavaScript 제어 프로그램 실행 환경
//
// run_robot(bot)이 일반 함수면 한 번에 실행하고 bot.sleep이 협조적으로 대기한다.
// function*이면 단계 실행이며 yield bot.sleep(s)가 다음 대기 시간을 넘긴다.
type JSSandbox struct{}

// NewJSSandbox - JavaScript 샌드박스 생성
func NewJSSandbox() *JSSandbox {
	return &JSSandbox{}
}

// Check - 구문 검사만 수행
func (js *JSSandbox) Check(source string) error {
	if _, err := goja.Compile("program.js", source, false); err != nil {
		return err
	}
	return nil
}

// Load - 프로그램을 컴파일하고 최상위 코드를 실행한 뒤 진입점을 찾는다
func (js *JSSandbox) Load(source string, bot *Bot) (Program, error) {
	compiled, err := goja.Compile("program.js", source, false)
	if err != nil {
		return nil, &ProgramLoadError{Err: err}
	}

	p := &jsProgram{
		vm:  goja.New(),
		bot: bot,
	}
	if err := p.installAPI(); err != nil {
		return nil, &ProgramLoadError{Err: err}
	}

	stop := context.AfterFunc(bot.Context(), func() { p.vm.Interrupt(ErrRunCancelled) })
	_, err = p.vm.RunProgram(compiled)
	stop()
	// 취소 뒤에는 남은 인터럽트가 로드 오류로 보이지 않게 한다
	if bot.Context().Err() != nil {
		p.vm.ClearInterrupt()
		return nil, ErrRunCancelled
	}
	if err != nil {
		return nil, &ProgramLoadError{Err: unwrapJSError(err)}
	}

	entry, ok := goja.AssertFunction(p.vm.Get(EntryPoint))
	if !ok {
		return nil, &ProgramLoadError{Err: ErrNoEntryPoint}
	}
	p.entry = entry

	check, err := p.vm.RunString(isGeneratorSrc)
	if err != nil {
		return nil, &ProgramLoadError{Err: err}
	}
	isGen, _ := goja.AssertFunction(check)
	res, err := isGen(goja.Undefined(), p.vm.Get(EntryPoint))
	if err != nil {
		return nil, &ProgramLoadError{Err: err}
	}
	if res.ToBoolean() {
		p.kind = ProgramStepped
	}

	return p, nil
}

// jsProgram - 불러온 JavaScript 프로그램
type jsProgram struct {
	vm     *goja.Runtime
	bot    *Bot
	botObj *goja.Object
	entry  goja.Callable
	kind   ProgramKind

	// 단계 실행 상태
	gen  *goja.Object
	next goja.Callable

	closeOnce sync.Once
}

func (p *jsProgram) Kind() ProgramKind {
	return p.kind
}

// Run - 일반 함수 실행
func (p *jsProgram) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { p.vm.Interrupt(ErrRunCancelled) })
	defer stop()

	_, err := p.entry(goja.Undefined(), p.botObj)
	return p.runtimeError(ctx, err)
}

// Step - 제너레이터 한 단계 진행
func (p *jsProgram) Step(ctx context.Context) (time.Duration, bool, error) {
	stop := context.AfterFunc(ctx, func() { p.vm.Interrupt(ErrRunCancelled) })
	defer stop()

	if p.gen == nil {
		v, err := p.entry(goja.Undefined(), p.botObj)
		if err != nil {
			return 0, true, p.runtimeError(ctx, err)
		}
		gen := v.ToObject(p.vm)
		next, ok := goja.AssertFunction(gen.Get("next"))
		if !ok {
			return 0, true, &ProgramRuntimeError{Err: errors.New("run_robot did not return a generator")}
		}
		p.gen, p.next = gen, next
	}

	res, err := p.next(p.gen)
	if err != nil {
		return 0, true, p.runtimeError(ctx, err)
	}
	obj := res.ToObject(p.vm)
	if obj.Get("done").ToBoolean() {
		return 0, true, nil
	}
	return secondsToDuration(obj.Get("value")), false, nil
}

func (p *jsProgram) Close() {
	p.closeOnce.Do(func() {
		p.vm.Interrupt(ErrRunCancelled)
	})
}

// runtimeError - goja 오류를 실행 오류로 변환 (취소는 ErrRunCancelled)
func (p *jsProgram) runtimeError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ErrRunCancelled
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if v, ok := interrupted.Value().(error); ok && errors.Is(v, ErrRunCancelled) {
			return ErrRunCancelled
		}
	}
	err = unwrapJSError(err)
	if errors.Is(err, ErrRunCancelled) {
		return ErrRunCancelled
	}
	return &ProgramRuntimeError{Err: err}
}

// unwrapJSError - Go에서 던진 오류는 원래 오류로 되돌림
func unwrapJSError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if goErr := errors.Unwrap(ex); goErr != nil {
			return goErr
		}
	}
	return err
}

// installAPI - bot 객체와 print/console 등록
func (p *jsProgram) installAPI() error {
	vm := p.vm
	bot := p.bot

	obj := vm.NewObject()
	set := func(target *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) {
		_ = target.Set(name, fn)
	}
	sub := func(name string) *goja.Object {
		o := vm.NewObject()
		_ = obj.Set(name, o)
		return o
	}
	readInt := func(read func() int) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value { return vm.ToValue(read()) }
	}

	motors := sub("motors")
	set(motors, "move", func(call goja.FunctionCall) goja.Value {
		bot.SetWheelSpeeds(call.Argument(0).ToFloat(), call.Argument(1).ToFloat())
		return goja.Undefined()
	})
	set(motors, "stop", func(goja.FunctionCall) goja.Value {
		bot.StopMotors()
		return goja.Undefined()
	})

	set(sub("line_left"), "read", readInt(bot.ReadLineLeft))
	set(sub("line_sensor"), "read", readInt(bot.ReadLineCenter))
	set(sub("line_right"), "read", readInt(bot.ReadLineRight))
	set(sub("light"), "read", readInt(bot.ReadLight))
	set(sub("left_encoder"), "read", readInt(bot.ReadEncoderLeft))
	set(sub("right_encoder"), "read", readInt(bot.ReadEncoderRight))

	sharp := sub("sharp")
	set(sharp, "read", readInt(bot.ReadRangeRaw))
	set(sharp, "distance_cm", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(bot.ReadRange())
	})

	set(sub("camera"), "detect_sign", func(goja.FunctionCall) goja.Value {
		label := bot.ReadSignLabel()
		if label == "" || label == models.SignNone {
			return goja.Null()
		}
		return vm.ToValue(label)
	})

	leds := sub("leds")
	set(leds, "fill", func(call goja.FunctionCall) goja.Value {
		c, err := toRGB(vm, call.Arguments)
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		bot.FillIndicators(c)
		return goja.Undefined()
	})
	set(leds, "set", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.NewTypeError("leds.set(index, color)"))
		}
		c, err := toRGB(vm, call.Arguments[1:])
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		bot.SetIndicator(int(call.Argument(0).ToInteger()), c)
		return goja.Undefined()
	})
	// write()는 이전 API 호환용. 배열을 받으면 4개 모두 설정
	set(leds, "write", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 || goja.IsUndefined(call.Argument(0)) {
			return goja.Undefined()
		}
		var colors models.IndicatorColors
		list := call.Argument(0).ToObject(vm)
		for i := range colors {
			c, err := toRGB(vm, []goja.Value{list.Get(fmt.Sprint(i))})
			if err != nil {
				panic(vm.NewTypeError(err.Error()))
			}
			colors[i] = c
		}
		bot.SetIndicatorColors(colors)
		return goja.Undefined()
	})

	button := sub("button")
	set(button, "is_pressed", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(bot.IsButtonPressed())
	})
	press := func(goja.FunctionCall) goja.Value {
		bot.PressButton()
		return goja.Undefined()
	}
	release := func(goja.FunctionCall) goja.Value {
		bot.ReleaseButton()
		return goja.Undefined()
	}
	set(button, "press", press)
	set(button, "pressButton", press)
	set(button, "release", release)
	set(button, "releaseButton", release)

	set(obj, "sleep", func(call goja.FunctionCall) goja.Value {
		seconds := call.Argument(0).ToFloat()
		if p.kind == ProgramStepped {
			return vm.ToValue(seconds)
		}
		if err := bot.RequestPause(seconds); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	printFn := func(call goja.FunctionCall) goja.Value {
		line := ""
		for i, arg := range call.Arguments {
			if i > 0 {
				line += " "
			}
			line += arg.String()
		}
		bot.Print(line)
		return goja.Undefined()
	}
	console := vm.NewObject()
	_ = console.Set("log", printFn)

	p.botObj = obj
	if err := vm.Set("print", printFn); err != nil {
		return err
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}
	return vm.Set("bot", obj)
}

// toRGB - [r,g,b] 배열 또는 (r,g,b) 인자를 색으로
func toRGB(vm *goja.Runtime, args []goja.Value) (models.RGB, error) {
	var c models.RGB
	if len(args) == 0 {
		return c, errors.New("color required")
	}
	parts := args
	if len(args) == 1 {
		obj := args[0].ToObject(vm)
		parts = []goja.Value{obj.Get("0"), obj.Get("1"), obj.Get("2")}
	}
	if len(parts) < 3 {
		return c, errors.New("color needs 3 components")
	}
	for i := 0; i < 3; i++ {
		if parts[i] == nil || goja.IsUndefined(parts[i]) {
			return c, errors.New("color needs 3 components")
		}
		v := parts[i].ToFloat()
		if math.IsNaN(v) {
			v = 0
		}
		c[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
	return c, nil
}

// secondsToDuration - yield 값(초)을 대기 시간으로. 숫자가 아니면 0, Infinity는 최댓값
func secondsToDuration(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return SecondsToDuration(v.ToFloat())
}
