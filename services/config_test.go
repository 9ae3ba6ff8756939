package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robosim-backend/algorithms"
	"robosim-backend/models"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"SIM_LISTEN_ADDR", "SIM_TICK_MS", "ROBOT_PROFILE", "LINE_POLARITY", "STOP_ZEROES_MOTORS", "DB_DRIVER", "EVENTS_ENABLED", "EVENT_COOLDOWN_MS"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, 16*time.Millisecond, cfg.Simulator.TickInterval)
	assert.Equal(t, 50, cfg.Scheduler.StartAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.StopGrace)
	assert.False(t, cfg.Scheduler.StopZeroesMotors)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.EventsEnabled)
	assert.Equal(t, time.Second, cfg.EventCooldown)
	assert.Equal(t, algorithms.DefaultProfile(), cfg.Profile)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SIM_LISTEN_ADDR", ":9000")
	t.Setenv("SIM_TICK_MS", "20")
	t.Setenv("STOP_ZEROES_MOTORS", "true")
	t.Setenv("LINE_POLARITY", "DARK_HIGH")
	t.Setenv("SCHED_START_ATTEMPTS", "not a number")
	t.Setenv("EVENTS_ENABLED", "false")
	t.Setenv("EVENT_COOLDOWN_MS", "250")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 20*time.Millisecond, cfg.Simulator.TickInterval)
	assert.True(t, cfg.Scheduler.StopZeroesMotors)
	assert.Equal(t, models.PolarityDarkHigh, cfg.Profile.LinePolarity)
	assert.Equal(t, 50, cfg.Scheduler.StartAttempts)
	assert.False(t, cfg.EventsEnabled)
	assert.Equal(t, 250*time.Millisecond, cfg.EventCooldown)
}

func TestLoadConfigBadPolarity(t *testing.T) {
	t.Setenv("ROBOT_PROFILE", "")
	t.Setenv("LINE_POLARITY", "sideways")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadProfileFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wheel_base: 50\nmax_speed: 80\nline_polarity: dark_high\n"), 0o644))

	t.Setenv("ROBOT_PROFILE", path)
	t.Setenv("LINE_POLARITY", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	want := algorithms.DefaultProfile()
	want.WheelBase = 50
	want.MaxSpeed = 80
	want.LinePolarity = models.PolarityDarkHigh
	assert.Equal(t, want, cfg.Profile)
}

func TestParseProfileErrors(t *testing.T) {
	_, err := ParseProfile([]byte("wheel_base: [1, 2"))
	assert.Error(t, err)

	_, err = ParseProfile([]byte("line_polarity: upside_down"))
	assert.Error(t, err)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
