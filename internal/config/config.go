package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time for duration-typed settings
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Durations are configured as integer
// seconds/minutes and converted once at load time.
type Config struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to verify externally issued JWTs

	// SeatLockTTL bounds how long a seat lock lives without being
	// converted into a booking.  Server-side expiry is the only expiry
	// mechanism; clients never run their own timers.
	SeatLockTTL time.Duration
	// LockSweepInterval is how often the expiry sweeper scans for lapsed
	// locks to broadcast their release.
	LockSweepInterval time.Duration
	// BookingWindow is the payment window granted to a PENDING booking.
	BookingWindow time.Duration

	AMQPURL string // RabbitMQ URL for booking lifecycle events (optional)
}

// Load reads configuration values from environment variables and returns
// a Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),      // environment (dev/test/prod)
		Port:      must("APP_PORT"),     // port to bind the HTTP server
		DBUser:    must("DB_USER"),      // database user
		DBPass:    os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost:    must("DB_HOST"),      // database host
		DBPort:    must("DB_PORT"),      // database port
		DBName:    must("DB_NAME"),      // database name
		JWTSecret: must("JWT_SECRET"),   // secret for verifying session tokens

		SeatLockTTL:       time.Duration(intOr("SEAT_LOCK_TTL_SEC", 300)) * time.Second,
		LockSweepInterval: time.Duration(intOr("LOCK_SWEEP_INTERVAL_SEC", 5)) * time.Second,
		BookingWindow:     time.Duration(intOr("BOOKING_WINDOW_MIN", 15)) * time.Minute,

		AMQPURL: os.Getenv("RABBITMQ_URL"), // empty disables queue publishing
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// intOr retrieves an optional integer environment variable, falling back
// to def when unset.  A malformed value is fatal rather than silently
// ignored.
func intOr(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
