package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
)

const minimalConfig = `
database:
  dsn: from-yaml
redis:
  addr: 127.0.0.1:6379
kafka:
  brokers: ["127.0.0.1:9092"]
minio:
  bucket: autograde
grading:
  mediaRoot: /srv/media
auth:
  secret: yaml-secret
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadAppConfig(writeFile(t, dir, "grader.yaml", minimalConfig), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Server.WriteTimeout != defaultWriteTimeout {
		t.Fatalf("expected server defaults, got %+v", cfg.Server)
	}
	if cfg.Topics.Jobs != defaultJobsTopic || cfg.Topics.DeadLetter != defaultJobsTopic+".dead" {
		t.Fatalf("expected topic defaults, got %+v", cfg.Topics)
	}
	if cfg.Grading.WorkerPoolSize != 1 {
		t.Fatalf("expected one worker, got %d", cfg.Grading.WorkerPoolSize)
	}
	if cfg.Grading.Outputs.Root != "/srv/media/outputs" || cfg.Grading.Files.CacheDir != "/srv/media/instructor_files" {
		t.Fatalf("expected media root paths, got %+v %+v", cfg.Grading.Outputs, cfg.Grading.Files)
	}
	if cfg.Grading.Files.Bucket != "autograde" || cfg.Grading.Outputs.Bucket != "autograde" {
		t.Fatalf("expected minio bucket inherited")
	}
	if len(cfg.Auth.Roles) != 2 || cfg.Auth.Issuer != defaultAuthIssuer {
		t.Fatalf("expected auth defaults, got %+v", cfg.Auth)
	}
}

func TestLoadAppConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "AUTOGRADE_DATABASE_DSN=from-env-file\nAUTOGRADE_AUTH_SECRET=env-file-secret\n")
	t.Setenv("AUTOGRADE_AUTH_SECRET", "exported-secret")
	t.Setenv("AUTOGRADE_DATABASE_DSN", "")
	os.Unsetenv("AUTOGRADE_DATABASE_DSN")

	cfg, err := loadAppConfig(writeFile(t, dir, "grader.yaml", minimalConfig), envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "from-env-file" {
		t.Fatalf("expected dsn from env file, got %s", cfg.Database.DSN)
	}
	if cfg.Auth.Secret != "exported-secret" {
		t.Fatalf("expected exported variable to win, got %s", cfg.Auth.Secret)
	}
}

func TestLoadAppConfigRequiresSecret(t *testing.T) {
	dir := t.TempDir()
	raw := "database:\n  dsn: x\nredis:\n  addr: y\nkafka:\n  brokers: [z]\n"
	if _, err := loadAppConfig(writeFile(t, dir, "grader.yaml", raw), ""); err == nil {
		t.Fatalf("expected missing auth secret error")
	}
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want kafka.Compression
	}{
		{raw: "zstd", want: kafka.Zstd},
		{raw: "GZIP", want: kafka.Gzip},
		{raw: "", want: kafka.Compression(0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			if got := parseCompression(tt.raw); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
