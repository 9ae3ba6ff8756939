package models

import "time"

// 시뮬레이터 맵 크기 (고정)
const (
	MapWidth  = 800
	MapHeight = 600
)

// CameraZone - 카메라가 인식하는 라벨 구역 (원형)
type CameraZone struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Label  string  `json:"sign"`
}

// Lamp - 조도 센서용 광원 (원형 영향 범위)
type Lamp struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// Obstacle - 거리 센서용 원형 장애물
type Obstacle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// Map - 래스터 트랙 + 기하 오버레이
//
// Pixels는 Width*Height*4 바이트 RGBA 버퍼다.
// 실행 중에는 불변으로 취급하며 교체는 Simulator.UpdateMap으로만 한다.
type Map struct {
	ID          string       `json:"id"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Pixels      []byte       `json:"-"`
	CameraZones []CameraZone `json:"camera_zones"`
	Lamps       []Lamp       `json:"lamps"`
	Obstacles   []Obstacle   `json:"obstacles"`
	Start       Pose         `json:"start_position"`
	CreatedAt   time.Time    `json:"created_at"`
}

// InBounds - 픽셀 좌표가 맵 안인지
func (m *Map) InBounds(px, py int) bool {
	return px >= 0 && px < m.Width && py >= 0 && py < m.Height
}

// Brightness - (px, py) 픽셀의 RGB 평균 밝기
func (m *Map) Brightness(px, py int) float64 {
	idx := (py*m.Width + px) * 4
	return (float64(m.Pixels[idx]) + float64(m.Pixels[idx+1]) + float64(m.Pixels[idx+2])) / 3
}

// ========================================
// 맵 파일 포맷 (v1)
// ========================================
type MapFile struct {
	Version             int             `json:"version"`
	MapWidth            int             `json:"mapWidth"`
	MapHeight           int             `json:"mapHeight"`
	ImageDataBase64     string          `json:"imageDataBase64"`
	CameraZones         []MapFileZone   `json:"cameraZones"`
	Lamps               []MapFileCircle `json:"lamps"`
	UltrasonicObstacles []MapFileCircle `json:"ultrasonicObstacles"`
	StartPosition       *MapFileStart   `json:"startPosition"`
}

// MapFileZone - 파일 내 카메라 구역
type MapFileZone struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Sign   *string `json:"sign"`
}

// MapFileCircle - 파일 내 램프/장애물
type MapFileCircle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// MapFileStart - 파일 내 시작 위치
type MapFileStart struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

// MapUpdateMessage - 맵 교체 시 WebSocket으로 전달하는 오버레이 요약
type MapUpdateMessage struct {
	MapID       string       `json:"map_id"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	CameraZones []CameraZone `json:"camera_zones"`
	Lamps       []Lamp       `json:"lamps"`
	Obstacles   []Obstacle   `json:"obstacles"`
	Start       Pose         `json:"start_position"`
}
