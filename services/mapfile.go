package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"robosim-backend/models"
)

// 지원하는 맵 파일 버전
const MapFileVersion = 1

// 맵 파일 기본값
const (
	DefaultZoneRadius     = 25
	DefaultLampRadius     = 120
	DefaultObstacleRadius = 30
	DefaultStartHeading   = 90
)

// 맵 검증 오류
var (
	ErrMalformedMapFile      = errors.New("malformed map file")
	ErrUnsupportedMapVersion = errors.New("unsupported map file version")
	ErrMapDimensions         = errors.New("map dimensions do not match simulator")
	ErrMissingMapImage       = errors.New("map file has no image data")
	ErrMalformedMapImage     = errors.New("malformed map image data")
)

// DecodeMapFile - v1 맵 파일 JSON을 검증하고 Map으로 변환
//
// 검증 실패 시 어떤 상태도 바꾸지 않고 오류만 돌려준다.
func DecodeMapFile(data []byte) (*models.Map, error) {
	var file models.MapFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMapFile, err)
	}

	if file.Version != MapFileVersion {
		return nil, fmt.Errorf("%w: %d (supported: %d)", ErrUnsupportedMapVersion, file.Version, MapFileVersion)
	}

	w, h := file.MapWidth, file.MapHeight
	if w == 0 {
		w = models.MapWidth
	}
	if h == 0 {
		h = models.MapHeight
	}
	if w != models.MapWidth || h != models.MapHeight {
		return nil, fmt.Errorf("%w: file is %dx%d, simulator is %dx%d",
			ErrMapDimensions, w, h, models.MapWidth, models.MapHeight)
	}

	if file.ImageDataBase64 == "" {
		return nil, ErrMissingMapImage
	}
	pixels, err := base64.StdEncoding.DecodeString(file.ImageDataBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMapImage, err)
	}
	if len(pixels) != w*h*4 {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedMapImage, w*h*4, len(pixels))
	}

	m := &models.Map{
		ID:          uuid.New().String(),
		Width:       w,
		Height:      h,
		Pixels:      pixels,
		CameraZones: make([]models.CameraZone, 0, len(file.CameraZones)),
		Lamps:       make([]models.Lamp, 0, len(file.Lamps)),
		Obstacles:   make([]models.Obstacle, 0, len(file.UltrasonicObstacles)),
		Start:       DefaultStartPose(),
		CreatedAt:   time.Now(),
	}

	for _, z := range file.CameraZones {
		label := ""
		if z.Sign != nil {
			label = normalizeSign(*z.Sign)
		}
		m.CameraZones = append(m.CameraZones, models.CameraZone{
			X:      z.X,
			Y:      z.Y,
			Radius: positiveOr(z.Radius, DefaultZoneRadius),
			Label:  label,
		})
	}
	for _, l := range file.Lamps {
		m.Lamps = append(m.Lamps, models.Lamp{X: l.X, Y: l.Y, Radius: positiveOr(l.Radius, DefaultLampRadius)})
	}
	for _, o := range file.UltrasonicObstacles {
		m.Obstacles = append(m.Obstacles, models.Obstacle{X: o.X, Y: o.Y, Radius: positiveOr(o.Radius, DefaultObstacleRadius)})
	}
	if sp := file.StartPosition; sp != nil {
		heading := sp.Angle
		if heading == 0 {
			heading = DefaultStartHeading
		}
		m.Start = models.Pose{X: sp.X, Y: sp.Y, Heading: heading}
	}

	return m, nil
}

// EncodeMapFile - Map을 v1 맵 파일 JSON으로
func EncodeMapFile(m *models.Map) ([]byte, error) {
	if err := ValidateMap(m); err != nil {
		return nil, err
	}
	file := models.MapFile{
		Version:             MapFileVersion,
		MapWidth:            m.Width,
		MapHeight:           m.Height,
		ImageDataBase64:     base64.StdEncoding.EncodeToString(m.Pixels),
		CameraZones:         make([]models.MapFileZone, 0, len(m.CameraZones)),
		Lamps:               make([]models.MapFileCircle, 0, len(m.Lamps)),
		UltrasonicObstacles: make([]models.MapFileCircle, 0, len(m.Obstacles)),
		StartPosition:       &models.MapFileStart{X: m.Start.X, Y: m.Start.Y, Angle: m.Start.Heading},
	}
	for _, z := range m.CameraZones {
		sign := z.Label
		file.CameraZones = append(file.CameraZones, models.MapFileZone{X: z.X, Y: z.Y, Radius: z.Radius, Sign: &sign})
	}
	for _, l := range m.Lamps {
		file.Lamps = append(file.Lamps, models.MapFileCircle{X: l.X, Y: l.Y, Radius: l.Radius})
	}
	for _, o := range m.Obstacles {
		file.UltrasonicObstacles = append(file.UltrasonicObstacles, models.MapFileCircle{X: o.X, Y: o.Y, Radius: o.Radius})
	}
	return json.Marshal(file)
}

// normalizeSign - 에디터 라벨 정규화 (GREEN → GO)
func normalizeSign(sign string) string {
	if sign == "GREEN" {
		return "GO"
	}
	return sign
}

func positiveOr(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
