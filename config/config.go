package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	MongoURI  string
	RedisAddr string
	HTTPPort  string
	JWTSecret string

	WorkDuration      time.Duration
	BreakDuration     time.Duration
	LongBreakDuration time.Duration
	CyclesPerLong     int

	StaleTimeout      time.Duration
	HeartbeatInterval time.Duration

	RoomCheckInterval  time.Duration
	ConfirmationWindow time.Duration
}

func Load() *Config {
	return &Config{
		MongoURI:  getEnv("MONGO_URI", "mongodb://localhost:27017"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		WorkDuration:      getDuration("WORK_DURATION", 25*time.Minute),
		BreakDuration:     getDuration("BREAK_DURATION", 5*time.Minute),
		LongBreakDuration: getDuration("LONG_BREAK_DURATION", 15*time.Minute),
		CyclesPerLong:     getInt("CYCLES_PER_LONG_BREAK", 4),

		StaleTimeout:      getDuration("STALE_TIMEOUT", 5*time.Minute),
		HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL", 30*time.Second),

		RoomCheckInterval:  getDuration("ROOM_CHECK_INTERVAL", 2*time.Hour),
		ConfirmationWindow: getDuration("CONFIRMATION_WINDOW", 10*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
