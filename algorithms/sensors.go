package algorithms

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"robosim-backend/models"
)

// Heading - 화면 좌표계에서 heading(도)의 단위 방향 벡터
func Heading(deg float64) r2.Vec {
	rad := deg * degToRad
	return r2.Vec{X: math.Cos(rad), Y: -math.Sin(rad)}
}

// LinePoints - 좌/중/우 라인 센서 위치
//
// 전방 LineForwardOffset, 좌우 LineLateralOffset 만큼 떨어진 점이다.
func LinePoints(pose models.Pose, p RobotProfile) (left, center, right r2.Vec) {
	origin := r2.Vec{X: pose.X, Y: pose.Y}
	fwd := Heading(pose.Heading)
	// heading 기준 왼쪽 (화면 좌표계에서 반시계 90°)
	lat := r2.Vec{X: fwd.Y, Y: -fwd.X}

	center = r2.Add(origin, r2.Scale(p.LineForwardOffset, fwd))
	left = r2.Add(center, r2.Scale(p.LineLateralOffset, lat))
	right = r2.Sub(center, r2.Scale(p.LineLateralOffset, lat))
	return left, center, right
}

// SampleBrightness - 3x3 이웃 평균 밝기 (맵 밖 픽셀 제외, 전부 밖이면 255)
func SampleBrightness(m *models.Map, pt r2.Vec) float64 {
	cx := int(math.Floor(pt.X))
	cy := int(math.Floor(pt.Y))
	sum, count := 0.0, 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			px, py := cx+dx, cy+dy
			if !m.InBounds(px, py) {
				continue
			}
			sum += m.Brightness(px, py)
			count++
		}
	}
	if count == 0 {
		return 255
	}
	return sum / float64(count)
}

// LineValue - 밝기 → 라인 센서 값 (극성 적용)
func LineValue(brightness float64, p RobotProfile) int {
	dark := brightness < p.LineThreshold
	if p.LinePolarity == models.PolarityDarkHigh {
		if dark {
			return models.SensorHigh
		}
		return models.SensorLow
	}
	if dark {
		return models.SensorLow
	}
	return models.SensorHigh
}

// LineSensors - 좌/중/우 라인 센서 값
func LineSensors(m *models.Map, pose models.Pose, p RobotProfile) (left, center, right int) {
	if m == nil || len(m.Pixels) < m.Width*m.Height*4 {
		v := LineValue(255, p)
		return v, v, v
	}
	l, c, r := LinePoints(pose, p)
	return LineValue(SampleBrightness(m, l), p),
		LineValue(SampleBrightness(m, c), p),
		LineValue(SampleBrightness(m, r), p)
}

// RangeSensor - 전방 시야각 안의 광선 중 최소 거리
//
// 각 광선은 원형 장애물(해석적 교차), 장애물 색 픽셀, 맵 경계 중 가장 가까운 것에서 멈춘다.
// 결과는 RangeMax로 제한된다.
func RangeSensor(m *models.Map, pose models.Pose, p RobotProfile) float64 {
	if m == nil {
		return p.RangeMax
	}
	fwd := Heading(pose.Heading)
	origin := r2.Add(r2.Vec{X: pose.X, Y: pose.Y}, r2.Scale(p.NoseOffset, fwd))

	best := p.RangeMax
	for i := 0; i < p.RangeRays; i++ {
		angle := pose.Heading
		if p.RangeRays > 1 {
			angle += p.RangeFOVDeg * (float64(i)/float64(p.RangeRays-1) - 0.5)
		}
		if d := castRay(m, origin, Heading(angle), p); d < best {
			best = d
		}
	}
	return math.Max(0, best)
}

func castRay(m *models.Map, origin, dir r2.Vec, p RobotProfile) float64 {
	best := math.Min(p.RangeMax, boundaryDistance(origin, dir, m.Width, m.Height))
	for _, obs := range m.Obstacles {
		if d, ok := RayCircle(origin, dir, r2.Vec{X: obs.X, Y: obs.Y}, obs.Radius); ok && d < best {
			best = d
		}
	}
	if len(m.Pixels) < m.Width*m.Height*4 {
		return best
	}
	for dist := 0.0; dist < best; dist += p.RangeStep {
		pt := r2.Add(origin, r2.Scale(dist, dir))
		px, py := int(math.Floor(pt.X)), int(math.Floor(pt.Y))
		if !m.InBounds(px, py) {
			return dist
		}
		if m.Brightness(px, py) < p.ObstacleThreshold {
			return dist
		}
	}
	return best
}

// RayCircle - 광선과 원의 첫 교차 거리. 원점이 원 안이면 0.
func RayCircle(origin, dir, center r2.Vec, radius float64) (float64, bool) {
	if radius <= 0 {
		return 0, false
	}
	oc := r2.Sub(center, origin)
	tca := r2.Dot(oc, dir)
	d2 := r2.Norm2(oc) - tca*tca
	r2sq := radius * radius
	if d2 > r2sq {
		return 0, false
	}
	thc := math.Sqrt(r2sq - d2)
	t0, t1 := tca-thc, tca+thc
	switch {
	case t0 >= 0:
		return t0, true
	case t1 >= 0:
		return 0, true
	default:
		return 0, false
	}
}

func boundaryDistance(origin, dir r2.Vec, width, height int) float64 {
	if origin.X < 0 || origin.Y < 0 || origin.X >= float64(width) || origin.Y >= float64(height) {
		return 0
	}
	t := math.Inf(1)
	if dir.X > 0 {
		t = math.Min(t, (float64(width)-origin.X)/dir.X)
	} else if dir.X < 0 {
		t = math.Min(t, -origin.X/dir.X)
	}
	if dir.Y > 0 {
		t = math.Min(t, (float64(height)-origin.Y)/dir.Y)
	} else if dir.Y < 0 {
		t = math.Min(t, -origin.Y/dir.Y)
	}
	return t
}

// RangeToADC - 거리 → Sharp 센서 원시값 (가까울수록 4095)
func RangeToADC(d float64, p RobotProfile) int {
	v := float64(models.SensorHigh) * (p.RangeMax - d) / p.RangeMax
	return int(math.Round(math.Max(0, math.Min(float64(models.SensorHigh), v))))
}

// LightSensor - 영향 반경 안 광원들의 최대 밝기 floor(max*(1-d/r))
func LightSensor(m *models.Map, pose models.Pose, p RobotProfile) int {
	if m == nil {
		return 0
	}
	pos := r2.Vec{X: pose.X, Y: pose.Y}
	best := 0
	for _, lamp := range m.Lamps {
		if lamp.Radius <= 0 {
			continue
		}
		d := r2.Norm(r2.Sub(pos, r2.Vec{X: lamp.X, Y: lamp.Y}))
		if d >= lamp.Radius {
			continue
		}
		if v := int(math.Floor(p.LightMax * (1 - d/lamp.Radius))); v > best {
			best = v
		}
	}
	return best
}

// CameraSensor - 로봇 중심을 포함하는 첫 번째 구역의 라벨 (삽입 순서)
func CameraSensor(m *models.Map, pose models.Pose) string {
	if m == nil {
		return models.SignNone
	}
	for _, z := range m.CameraZones {
		if z.Radius <= 0 || math.IsNaN(z.X) || math.IsNaN(z.Y) {
			continue
		}
		if math.Hypot(pose.X-z.X, pose.Y-z.Y) < z.Radius {
			return z.Label
		}
	}
	return models.SignNone
}

// ComputeFrame - 자세 + 맵 → 센서 프레임 (엔코더는 누적값 반올림)
func ComputeFrame(m *models.Map, pose models.Pose, encLeft, encRight float64, p RobotProfile) models.SensorFrame {
	l, c, r := LineSensors(m, pose, p)
	return models.SensorFrame{
		LineLeft:     l,
		LineCenter:   c,
		LineRight:    r,
		Range:        RangeSensor(m, pose, p),
		Light:        LightSensor(m, pose, p),
		SignLabel:    CameraSensor(m, pose),
		EncoderLeft:  int(math.Round(encLeft)),
		EncoderRight: int(math.Round(encRight)),
	}
}
