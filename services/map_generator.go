package services

import (
	"math"
	"time"

	"github.com/google/uuid"

	"robosim-backend/models"
)

// 기본 링 트랙 반경 (600px 높이 기준)
const (
	trackOuterRadius = 260 // 바깥 울타리
	trackBorder      = 32  // 울타리 두께
	trackInnerRadius = 110 // 안쪽 울타리
)

// MapGenerator handles built-in track generation
type MapGenerator struct{}

// NewMapGenerator creates a new MapGenerator instance
func NewMapGenerator() *MapGenerator {
	return &MapGenerator{}
}

// DefaultTrack renders the built-in ring track
//
// 흰 바탕 위에 검은 원판(r=260), 흰 주행로(r=228), 검은 중앙 원판(r=110)을 그린다.
// 시작 위치는 주행로 하단, 위쪽(90°)을 향한다.
func (mg *MapGenerator) DefaultTrack() *models.Map {
	w, h := models.MapWidth, models.MapHeight
	pixels := make([]byte, w*h*4)

	cx, cy := float64(w)/2, float64(h)/2
	k := math.Min(float64(w), float64(h)) / 600
	outer := math.Round(trackOuterRadius * k)
	track := outer - math.Round(trackBorder*k)
	inner := math.Round(trackInnerRadius * k)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			var v byte = 255
			if d <= outer && (d > track || d <= inner) {
				v = 0
			}
			idx := (y*w + x) * 4
			pixels[idx] = v
			pixels[idx+1] = v
			pixels[idx+2] = v
			pixels[idx+3] = 255
		}
	}

	return &models.Map{
		ID:          uuid.New().String(),
		Width:       w,
		Height:      h,
		Pixels:      pixels,
		CameraZones: []models.CameraZone{},
		Lamps:       []models.Lamp{},
		Obstacles:   []models.Obstacle{},
		Start:       DefaultStartPose(),
		CreatedAt:   time.Now(),
	}
}

// BlankMap returns an all-white map with no overlays
func (mg *MapGenerator) BlankMap() *models.Map {
	w, h := models.MapWidth, models.MapHeight
	pixels := make([]byte, w*h*4)
	for i := range pixels {
		pixels[i] = 255
	}
	return &models.Map{
		ID:          uuid.New().String(),
		Width:       w,
		Height:      h,
		Pixels:      pixels,
		CameraZones: []models.CameraZone{},
		Lamps:       []models.Lamp{},
		Obstacles:   []models.Obstacle{},
		Start:       DefaultStartPose(),
		CreatedAt:   time.Now(),
	}
}

// DefaultStartPose - 맵에 시작 위치가 없을 때의 자세
func DefaultStartPose() models.Pose {
	return models.Pose{X: models.MapWidth / 2, Y: models.MapHeight - 115, Heading: 90}
}
