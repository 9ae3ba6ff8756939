package algorithms

import "robosim-backend/models"

// RobotProfile - 로봇 물리/센서 상수
type RobotProfile struct {
	WheelBase              float64             `yaml:"wheel_base"`
	MaxSpeed               float64             `yaml:"max_speed"` // px/s at command 100
	Margin                 float64             `yaml:"margin"`
	EncoderTicksPerUnitSec float64             `yaml:"encoder_ticks_per_unit_sec"`
	LineForwardOffset      float64             `yaml:"line_forward_offset"`
	LineLateralOffset      float64             `yaml:"line_lateral_offset"`
	LineThreshold          float64             `yaml:"line_threshold"`
	LinePolarity           models.LinePolarity `yaml:"line_polarity"`
	NoseOffset             float64             `yaml:"nose_offset"`
	RangeMax               float64             `yaml:"range_max"`
	RangeStep              float64             `yaml:"range_step"`
	RangeRays              int                 `yaml:"range_rays"`
	RangeFOVDeg            float64             `yaml:"range_fov_deg"`
	ObstacleThreshold      float64             `yaml:"obstacle_threshold"`
	LightMax               float64             `yaml:"light_max"`
}

// DefaultProfile - 기본 로봇 프로필
func DefaultProfile() RobotProfile {
	return RobotProfile{
		WheelBase:              40,
		MaxSpeed:               50,
		Margin:                 20,
		EncoderTicksPerUnitSec: 0.4, // 20 ticks/s at speed 50
		LineForwardOffset:      22,
		LineLateralOffset:      12,
		LineThreshold:          120,
		LinePolarity:           models.PolarityDarkLow,
		NoseOffset:             20,
		RangeMax:               80,
		RangeStep:              1,
		RangeRays:              3,
		RangeFOVDeg:            15,
		ObstacleThreshold:      120,
		LightMax:               4095,
	}
}

// Normalize - 0 또는 음수 값을 기본값으로 채운다
func (p RobotProfile) Normalize() RobotProfile {
	def := DefaultProfile()
	if p.WheelBase <= 0 {
		p.WheelBase = def.WheelBase
	}
	if p.MaxSpeed <= 0 {
		p.MaxSpeed = def.MaxSpeed
	}
	if p.Margin < 0 {
		p.Margin = def.Margin
	}
	if p.EncoderTicksPerUnitSec <= 0 {
		p.EncoderTicksPerUnitSec = def.EncoderTicksPerUnitSec
	}
	if p.LineForwardOffset <= 0 {
		p.LineForwardOffset = def.LineForwardOffset
	}
	if p.LineLateralOffset <= 0 {
		p.LineLateralOffset = def.LineLateralOffset
	}
	if p.LineThreshold <= 0 {
		p.LineThreshold = def.LineThreshold
	}
	if p.LinePolarity != models.PolarityDarkHigh {
		p.LinePolarity = models.PolarityDarkLow
	}
	if p.NoseOffset < 0 {
		p.NoseOffset = def.NoseOffset
	}
	if p.RangeMax <= 0 {
		p.RangeMax = def.RangeMax
	}
	if p.RangeStep <= 0 {
		p.RangeStep = def.RangeStep
	}
	if p.RangeRays <= 0 {
		p.RangeRays = def.RangeRays
	}
	if p.RangeFOVDeg < 0 {
		p.RangeFOVDeg = def.RangeFOVDeg
	}
	if p.ObstacleThreshold <= 0 {
		p.ObstacleThreshold = def.ObstacleThreshold
	}
	if p.LightMax <= 0 {
		p.LightMax = def.LightMax
	}
	return p
}
