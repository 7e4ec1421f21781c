package config

import (
	"testing"
	"time"
)

func TestDSNEscapesCredentials(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "alarmd", Password: "p@ss/word", Name: "alarmd"}
	want := "postgres://alarmd:p%40ss%2Fword@db:5432/alarmd?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}

	cfg.SSLMode = "require"
	if got := cfg.DSN(); got != "postgres://alarmd:p%40ss%2Fword@db:5432/alarmd?sslmode=require" {
		t.Fatalf("DSN() = %q", got)
	}
}

func TestEnvHelpersKeepCurrentOnBadInput(t *testing.T) {
	t.Setenv("ALARMD_TEST_INT", "x")
	t.Setenv("ALARMD_TEST_BOOL", "maybe")
	t.Setenv("ALARMD_TEST_DURATION", "1h30m")

	if got := IntFromEnv("ALARMD_TEST_INT", 7); got != 7 {
		t.Errorf("IntFromEnv = %d", got)
	}
	if got := BoolFromEnv("ALARMD_TEST_BOOL", true); !got {
		t.Errorf("BoolFromEnv = %v", got)
	}
	if got := DurationFromEnv("ALARMD_TEST_DURATION", time.Second); got != 90*time.Minute {
		t.Errorf("DurationFromEnv = %v", got)
	}
	if got := StringFromEnv("ALARMD_TEST_UNSET", "keep"); got != "keep" {
		t.Errorf("StringFromEnv = %q", got)
	}
}

func TestOverrideMQFromEnv(t *testing.T) {
	t.Setenv("MQ_URL", "amqp://broker:5672/")
	t.Setenv("MQ_PREFETCH", "32")

	cfg := MQConfig{URL: "amqp://localhost/", Exchange: "alarm.events", Prefetch: 16}
	OverrideMQFromEnv(&cfg)
	if cfg.URL != "amqp://broker:5672/" || cfg.Prefetch != 32 || cfg.Exchange != "alarm.events" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
