package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// unsetenv removes key for the duration of the test
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORKA_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{"DB_DRIVER", "ORKA_MAX_THREADS", "ORKA_JOB_TIMEOUT", "ORKA_STALE_AFTER", "ORKA_DB_SCHEMA", "ORKA_MAX_BBOX_AREA_KM2"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.MaxThreads != 4 {
		t.Errorf("max threads = %d", cfg.MaxThreads)
	}
	if cfg.JobTimeout != 10*time.Minute {
		t.Errorf("timeout = %s", cfg.JobTimeout)
	}
	if cfg.StaleAfter != 15*time.Minute {
		t.Errorf("stale after = %s", cfg.StaleAfter)
	}
	if cfg.DBSchema != "orka" || cfg.DBTable != "jobs" {
		t.Errorf("table = %s.%s", cfg.DBSchema, cfg.DBTable)
	}
	if cfg.MaxBBoxAreaKm != 100 {
		t.Errorf("max area = %g", cfg.MaxBBoxAreaKm)
	}
}

func TestSQLiteDefaultsToMainSchema(t *testing.T) {
	t.Setenv("ORKA_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("ORKA_DB_SCHEMA", "")

	if cfg := Load(); cfg.DBSchema != "main" {
		t.Errorf("schema = %s, want main", cfg.DBSchema)
	}
}

func TestLoadFromEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "ORKA_MAX_THREADS=8\nORKA_JOB_TIMEOUT=90s\nORKA_AREA_SRID=6933\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ORKA_ENV_FILE", envFile)
	// already set variables win over the file
	t.Setenv("ORKA_MAX_THREADS", "6")
	t.Setenv("ORKA_MAX_BBOX_AREA_KM2", "not-a-number")
	for _, key := range []string{"ORKA_JOB_TIMEOUT", "ORKA_AREA_SRID", "ORKA_STALE_AFTER"} {
		unsetenv(t, key)
	}

	cfg := Load()
	if cfg.MaxThreads != 6 {
		t.Errorf("max threads = %d, want 6", cfg.MaxThreads)
	}
	if cfg.JobTimeout != 90*time.Second {
		t.Errorf("timeout = %s, want 90s", cfg.JobTimeout)
	}
	if cfg.AreaSRID != 6933 {
		t.Errorf("srid = %d", cfg.AreaSRID)
	}
	if cfg.StaleAfter != 90*time.Second+5*time.Minute {
		t.Errorf("stale after = %s", cfg.StaleAfter)
	}
	if cfg.MaxBBoxAreaKm != 100 {
		t.Errorf("invalid value should fall back, got %g", cfg.MaxBBoxAreaKm)
	}
}
