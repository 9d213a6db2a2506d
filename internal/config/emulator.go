package config

import (
	"fmt"
	"os"
	"strconv"
)

// Emulator holds the Link Emulator's env vars.
type Emulator struct {
	ListenAddr        string
	TargetAddr        string
	MetricsListenAddr string

	LatencyMs        int
	JitterMs         int
	RateBps          int64
	BucketBytes      int64
	StallPeriodMs    int
	StallDurationMs  int
}

func EmulatorFromEnv(getenv func(string) string) (Emulator, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Emulator{
		BucketBytes: 65536,
	}

	var err error
	if cfg.ListenAddr, err = required(getenv, "EMULATOR_LISTEN_ADDR"); err != nil {
		return cfg, err
	}
	if cfg.TargetAddr, err = required(getenv, "EMULATOR_TARGET_ADDR"); err != nil {
		return cfg, err
	}
	if cfg.MetricsListenAddr, err = required(getenv, "EMULATOR_METRICS_LISTEN_ADDR"); err != nil {
		return cfg, err
	}

	if cfg.LatencyMs, err = optionalInt(getenv, "EMULATOR_LATENCY_MS", 0); err != nil {
		return cfg, err
	}
	if cfg.JitterMs, err = optionalInt(getenv, "EMULATOR_JITTER_MS", 0); err != nil {
		return cfg, err
	}
	if cfg.RateBps, err = optionalInt64(getenv, "EMULATOR_RATE_BPS", 0); err != nil {
		return cfg, err
	}
	if cfg.BucketBytes, err = optionalInt64(getenv, "EMULATOR_BUCKET_BYTES", 65536); err != nil {
		return cfg, err
	}
	if cfg.StallPeriodMs, err = optionalInt(getenv, "EMULATOR_STALL_PERIOD_MS", 0); err != nil {
		return cfg, err
	}
	if cfg.StallDurationMs, err = optionalInt(getenv, "EMULATOR_STALL_DURATION_MS", 0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func optionalInt(getenv func(string) string, name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func optionalInt64(getenv func(string) string, name string, def int64) (int64, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
