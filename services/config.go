package services

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"robosim-backend/algorithms"
	"robosim-backend/models"
)

// Config - 서버 전체 설정 (환경 변수)
type Config struct {
	ListenAddr  string
	CORSOrigins string

	Simulator SimulatorConfig
	Scheduler SchedulerConfig
	Profile   algorithms.RobotProfile
	Database  DatabaseConfig

	ConsoleFlushSize     int
	ConsoleFlushInterval time.Duration

	EventsEnabled bool
	EventCooldown time.Duration // 저우선순위 이벤트 최소 간격
}

// LoadConfig - 환경 변수에서 설정 읽기 (없으면 기본값)
//
// ROBOT_PROFILE이 지정되면 YAML 파일로 로봇 상수를 덮어쓰고,
// LINE_POLARITY는 프로필보다 우선한다.
func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:  getEnv("SIM_LISTEN_ADDR", ":3000"),
		CORSOrigins: getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173, http://localhost:3000"),
		Simulator: SimulatorConfig{
			TickInterval:  getEnvMillis("SIM_TICK_MS", 16),
			MaxDt:         getEnvMillis("SIM_MAX_DT_MS", 50),
			FrameInterval: getEnvMillis("SIM_FRAME_MS", 50),
		},
		Scheduler: SchedulerConfig{
			PollInterval:     getEnvMillis("SCHED_POLL_MS", 10),
			StartAttempts:    getEnvInt("SCHED_START_ATTEMPTS", 50),
			StartInterval:    getEnvMillis("SCHED_START_INTERVAL_MS", 100),
			StopGrace:        getEnvMillis("SCHED_STOP_GRACE_MS", 500),
			StopZeroesMotors: getEnvBool("STOP_ZEROES_MOTORS", false),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "sqlite"),
			SQLitePath:    getEnv("SQLITE_PATH", "robosim.db"),
			MySQLHost:     os.Getenv("MYSQL_HOST"),
			MySQLPort:     getEnvInt("MYSQL_PORT", 3306),
			MySQLUser:     os.Getenv("MYSQL_USER"),
			MySQLPassword: os.Getenv("MYSQL_PASSWORD"),
			MySQLDatabase: os.Getenv("MYSQL_DATABASE"),
		},
		ConsoleFlushSize:     getEnvInt("CONSOLE_FLUSH_SIZE", 20),
		ConsoleFlushInterval: getEnvMillis("CONSOLE_FLUSH_MS", 250),
		EventsEnabled:        getEnvBool("EVENTS_ENABLED", true),
		EventCooldown:        getEnvMillis("EVENT_COOLDOWN_MS", 1000),
	}

	profile := algorithms.DefaultProfile()
	if path := os.Getenv("ROBOT_PROFILE"); path != "" {
		p, err := LoadProfile(path)
		if err != nil {
			return cfg, err
		}
		profile = p
	}
	if v := os.Getenv("LINE_POLARITY"); v != "" {
		polarity, err := ParsePolarity(v)
		if err != nil {
			return cfg, err
		}
		profile.LinePolarity = polarity
	}
	cfg.Profile = profile.Normalize()

	return cfg, nil
}

// LoadProfile - YAML 로봇 프로필 읽기 (빠진 항목은 기본값)
func LoadProfile(path string) (algorithms.RobotProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return algorithms.RobotProfile{}, fmt.Errorf("로봇 프로필 읽기 실패: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile - YAML 바이트를 로봇 프로필로
func ParseProfile(data []byte) (algorithms.RobotProfile, error) {
	p := algorithms.DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return algorithms.RobotProfile{}, fmt.Errorf("로봇 프로필 파싱 실패: %w", err)
	}
	if p.LinePolarity != "" {
		polarity, err := ParsePolarity(string(p.LinePolarity))
		if err != nil {
			return algorithms.RobotProfile{}, err
		}
		p.LinePolarity = polarity
	}
	return p.Normalize(), nil
}

// ParsePolarity - 라인 센서 극성 문자열 검증
func ParsePolarity(v string) (models.LinePolarity, error) {
	switch models.LinePolarity(strings.ToLower(strings.TrimSpace(v))) {
	case models.PolarityDarkLow:
		return models.PolarityDarkLow, nil
	case models.PolarityDarkHigh:
		return models.PolarityDarkHigh, nil
	default:
		return "", fmt.Errorf("알 수 없는 LINE_POLARITY: %q (dark_low | dark_high)", v)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvMillis(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Millisecond
}

func getEnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
