package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Job store
	DBDriver    string
	DatabaseURL string
	DBSchema    string
	DBTable     string

	// Spatial data database the export tool reads from
	PGHost     string
	PGPort     string
	PGDatabase string
	PGUser     string
	PGPassword string

	// Server
	ServerPort string

	// Exports
	MaxThreads    int
	MaxBBoxAreaKm float64
	AreaSRID      int
	JobTimeout    time.Duration
	GPKGDir       string
	LayerDir      string
	Ogr2ogrBin    string
	CallbackURL   string

	// Monitoring
	StaleAfter      time.Duration
	MonitorInterval time.Duration

	LogFile string
}

// Load loads configuration from environment variables. A .env file in the
// working directory (or the one named by ORKA_ENV_FILE) is read first and
// never overrides variables that are already set.
func Load() *Config {
	envFile := getEnv("ORKA_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load %s: %v", envFile, err)
	}

	timeout := getEnvDuration("ORKA_JOB_TIMEOUT", 10*time.Minute)

	driver := getEnv("DB_DRIVER", "postgres")
	schema := "orka"
	if driver == "sqlite" {
		// sqlite only knows the attached database names
		schema = "main"
	}

	return &Config{
		DBDriver:    driver,
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost/orka?sslmode=disable"),
		DBSchema:    getEnv("ORKA_DB_SCHEMA", schema),
		DBTable:     getEnv("ORKA_DB_TABLE", "jobs"),

		PGHost:     getEnv("PG_HOST", "localhost"),
		PGPort:     getEnv("PG_PORT", "5432"),
		PGDatabase: getEnv("PG_DATABASE", "osm"),
		PGUser:     getEnv("PG_USER", "postgres"),
		PGPassword: getEnv("PG_PASSWORD", ""),

		ServerPort: getEnv("SERVER_PORT", "8080"),

		MaxThreads:    getEnvInt("ORKA_MAX_THREADS", 4),
		MaxBBoxAreaKm: getEnvFloat("ORKA_MAX_BBOX_AREA_KM2", 100),
		AreaSRID:      getEnvInt("ORKA_AREA_SRID", 3857),
		JobTimeout:    timeout,
		GPKGDir:       getEnv("ORKA_GPKG_DIR", "./gpkg"),
		LayerDir:      getEnv("ORKA_LAYER_DIR", "./layers"),
		Ogr2ogrBin:    getEnv("ORKA_OGR2OGR_BIN", "ogr2ogr"),
		CallbackURL:   getEnv("ORKA_CALLBACK_URL", ""),

		StaleAfter:      getEnvDuration("ORKA_STALE_AFTER", timeout+5*time.Minute),
		MonitorInterval: getEnvDuration("ORKA_MONITOR_INTERVAL", time.Minute),

		LogFile: getEnv("ORKA_LOG_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %g", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
