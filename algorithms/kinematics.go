package algorithms

import (
	"math"

	"robosim-backend/models"
)

const (
	SpeedLimit = 100.0
	radToDeg   = 180 / math.Pi
	degToRad   = math.Pi / 180
)

// ClampSpeed - 바퀴 속도를 [-100, 100]으로 제한
func ClampSpeed(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-SpeedLimit, math.Min(SpeedLimit, v))
}

// ClampCommand - 양쪽 바퀴 속도 제한
func ClampCommand(cmd models.WheelCommand) models.WheelCommand {
	return models.WheelCommand{Left: ClampSpeed(cmd.Left), Right: ClampSpeed(cmd.Right)}
}

// EncoderDelta - 바퀴 속도와 dt로부터 엔코더 증가량
func EncoderDelta(cmd models.WheelCommand, dt float64, p RobotProfile) (left, right float64) {
	if dt <= 0 {
		return 0, 0
	}
	return cmd.Left * dt * p.EncoderTicksPerUnitSec, cmd.Right * dt * p.EncoderTicksPerUnitSec
}

// Integrate - 차동 구동 1차 오일러 적분
//
// 화면 좌표계: heading 90°로 전진하면 y가 감소한다.
// 결과 위치는 맵 경계에서 margin만큼 안쪽으로 제한된다.
func Integrate(pose models.Pose, cmd models.WheelCommand, dt float64, width, height int, p RobotProfile) models.Pose {
	if dt <= 0 {
		return clampPose(pose, width, height, p.Margin)
	}
	cmd = ClampCommand(cmd)

	v := ((cmd.Left + cmd.Right) / 200) * p.MaxSpeed
	w := ((cmd.Right - cmd.Left) / 100) * (p.MaxSpeed / p.WheelBase)

	next := pose
	next.Heading += w * dt * radToDeg
	rad := next.Heading * degToRad
	next.X += v * math.Cos(rad) * dt
	next.Y -= v * math.Sin(rad) * dt

	return clampPose(next, width, height, p.Margin)
}

func clampPose(pose models.Pose, width, height int, margin float64) models.Pose {
	pose.X = clampRange(pose.X, margin, float64(width)-margin)
	pose.Y = clampRange(pose.Y, margin, float64(height)-margin)
	return pose
}

func clampRange(v, lo, hi float64) float64 {
	if lo > hi {
		return (lo + hi) / 2
	}
	return math.Max(lo, math.Min(hi, v))
}
