package algorithms

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"

	"robosim-backend/models"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestIntegrateStraight(t *testing.T) {
	p := DefaultProfile()
	start := models.Pose{X: 400, Y: 300, Heading: 90}

	got := Integrate(start, models.WheelCommand{Left: 100, Right: 100}, 1, models.MapWidth, models.MapHeight, p)

	// heading 90 → 화면 위쪽 (y 감소), 속도 100 = MaxSpeed px/s
	want := models.Pose{X: 400, Y: 250, Heading: 90}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("pose mismatch (-want +got):\n%s", diff)
	}
}

func TestIntegrateSpinInPlace(t *testing.T) {
	p := DefaultProfile()
	start := models.Pose{X: 400, Y: 300, Heading: 0}

	got := Integrate(start, models.WheelCommand{Left: -100, Right: 100}, 1, models.MapWidth, models.MapHeight, p)

	// w = 2 * MaxSpeed / WheelBase rad/s
	wantHeading := 2 * p.MaxSpeed / p.WheelBase * 180 / math.Pi
	assert.InDelta(t, 400, got.X, 1e-9)
	assert.InDelta(t, 300, got.Y, 1e-9)
	assert.InDelta(t, wantHeading, got.Heading, 1e-9)
}

func TestIntegrateClampsToMargin(t *testing.T) {
	p := DefaultProfile()
	start := models.Pose{X: 25, Y: 300, Heading: 180}

	got := Integrate(start, models.WheelCommand{Left: 100, Right: 100}, 1, models.MapWidth, models.MapHeight, p)

	assert.InDelta(t, p.Margin, got.X, 1e-9)
	assert.InDelta(t, 300, got.Y, 1e-6)
}

func TestIntegrateZeroDt(t *testing.T) {
	p := DefaultProfile()
	start := models.Pose{X: 100, Y: 100, Heading: 45}

	assert.Equal(t, start, Integrate(start, models.WheelCommand{Left: 100, Right: 100}, 0, models.MapWidth, models.MapHeight, p))
	assert.Equal(t, start, Integrate(start, models.WheelCommand{Left: 100, Right: 100}, -1, models.MapWidth, models.MapHeight, p))
}

func TestClampSpeed(t *testing.T) {
	assert.Equal(t, 100.0, ClampSpeed(150))
	assert.Equal(t, -100.0, ClampSpeed(-1000))
	assert.Equal(t, 42.5, ClampSpeed(42.5))
	assert.Equal(t, 0.0, ClampSpeed(math.NaN()))

	cmd := ClampCommand(models.WheelCommand{Left: 101, Right: math.NaN()})
	assert.Equal(t, models.WheelCommand{Left: 100, Right: 0}, cmd)
}

func TestEncoderDelta(t *testing.T) {
	p := DefaultProfile()

	l, r := EncoderDelta(models.WheelCommand{Left: 50, Right: -25}, 1, p)
	assert.InDelta(t, 20, l, 1e-9)
	assert.InDelta(t, -10, r, 1e-9)

	l, r = EncoderDelta(models.WheelCommand{Left: 50, Right: 50}, 0, p)
	assert.Zero(t, l)
	assert.Zero(t, r)
}

func TestProfileNormalize(t *testing.T) {
	p := RobotProfile{WheelBase: 60, LinePolarity: "bogus"}.Normalize()
	def := DefaultProfile()

	assert.Equal(t, 60.0, p.WheelBase)
	assert.Equal(t, def.MaxSpeed, p.MaxSpeed)
	assert.Equal(t, def.RangeRays, p.RangeRays)
	assert.Equal(t, models.PolarityDarkLow, p.LinePolarity)
}
