package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseActiveHours(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []int
		wantErr bool
	}{
		{name: "range", input: "8-14", want: []int{8, 9, 10, 11, 12, 13, 14}},
		{name: "list and range", input: "1, 3-4 ,23", want: []int{1, 3, 4, 23}},
		{name: "reversed range", input: "14-12", want: []int{12, 13, 14}},
		{name: "clamped range", input: "22-30", want: []int{22, 23}},
		{name: "out of range single", input: "7,24", want: []int{7}, wantErr: true},
		{name: "garbage", input: "a-b", want: []int{}, wantErr: true},
		{name: "empty", input: "", want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseActiveHours(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			got := set.Hours()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestHourSetString(t *testing.T) {
	set, _ := ParseActiveHours("8-14,20,22-23")
	if got := set.String(); got != "8-14,20,22-23" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestHourSetNext(t *testing.T) {
	loc := time.UTC
	set, _ := ParseActiveHours("8-14")

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			name: "exact top of active hour",
			from: time.Date(2025, 6, 1, 9, 0, 0, 0, loc),
			want: time.Date(2025, 6, 1, 9, 0, 0, 0, loc),
		},
		{
			name: "mid hour rounds up",
			from: time.Date(2025, 6, 1, 9, 0, 1, 0, loc),
			want: time.Date(2025, 6, 1, 10, 0, 0, 0, loc),
		},
		{
			name: "after window wraps to next day",
			from: time.Date(2025, 6, 1, 14, 30, 0, 0, loc),
			want: time.Date(2025, 6, 2, 8, 0, 0, 0, loc),
		},
		{
			name: "before window same day",
			from: time.Date(2025, 6, 1, 3, 15, 0, 0, loc),
			want: time.Date(2025, 6, 1, 8, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := set.Next(tt.from, loc, 48*time.Hour)
			if !ok {
				t.Fatalf("expected a next time")
			}
			if !got.Equal(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHourSetNextBoundedLookahead(t *testing.T) {
	var empty HourSet
	if _, ok := empty.Next(time.Now(), time.UTC, 48*time.Hour); ok {
		t.Fatalf("empty set must not produce a next time")
	}

	set, _ := ParseActiveHours("8")
	from := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if _, ok := set.Next(from, time.UTC, 12*time.Hour); ok {
		t.Fatalf("expected no hit within a 12h look-ahead")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "")
	t.Setenv("BOARDING_HOURS", "")
	t.Setenv("QUEUE_REQUEUE_POLICY", "bogus")
	t.Setenv("OVERCAPACITY_SWEEPER_SCHEDULE", "not a schedule")
	t.Setenv("EXPIRATION_SWEEPER_INTERVAL_SEC", "2")

	cfg := Load()

	if cfg.QueueCapacity != 500 || !cfg.QueueEnabled() {
		t.Fatalf("expected capacity 500, got %d", cfg.QueueCapacity)
	}
	if got := cfg.BoardingHours.String(); got != DefaultBoardingHours {
		t.Fatalf("expected default hours, got %q", got)
	}
	if cfg.QueueRequeuePolicy != RequeueOverride {
		t.Fatalf("expected fallback requeue policy, got %q", cfg.QueueRequeuePolicy)
	}
	if cfg.OvercapacitySweeperSchedule != "0 * * * *" {
		t.Fatalf("expected default schedule, got %q", cfg.OvercapacitySweeperSchedule)
	}
	if cfg.ExpirationSweeperInterval != 10*time.Second {
		t.Fatalf("expected interval floor of 10s, got %v", cfg.ExpirationSweeperInterval)
	}
	if cfg.InviteRetry.MaxAttempts != 3 || cfg.InviteRetry.InitialDelayMs != 800 {
		t.Fatalf("unexpected invite retry defaults %+v", cfg.InviteRetry)
	}
	if cfg.QueueCooldown != 30*24*time.Hour {
		t.Fatalf("expected 30 day cooldown, got %v", cfg.QueueCooldown)
	}
}

func TestLoadZeroFloors(t *testing.T) {
	t.Setenv("QUEUE_REJOIN_COOLDOWN_DAYS", "0")
	t.Setenv("OVERCAPACITY_MAX_MEMBERS", "0")

	cfg := Load()
	if cfg.QueueCooldown != 0 {
		t.Fatalf("expected cooldown disabled, got %v", cfg.QueueCooldown)
	}
	if cfg.OvercapacityMaxMembers != 0 {
		t.Fatalf("expected max members 0 to be kept, got %d", cfg.OvercapacityMaxMembers)
	}
}

func TestLoadDisabledQueue(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "0")

	cfg := Load()
	if cfg.QueueEnabled() {
		t.Fatalf("capacity 0 must disable the queue")
	}
}

func TestLogHandlerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(&buf, &Config{LogLevel: "WARN", LogFormat: "json"}))

	logger.Info("dropped")
	logger.Warn("kept", "entry_id", "e1")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("expected info to be filtered at warn level, got %s", out)
	}
	if !strings.Contains(out, `"entry_id":"e1"`) {
		t.Fatalf("expected json output, got %s", out)
	}
	if got := ParseLogLevel("nonsense"); got != slog.LevelInfo {
		t.Fatalf("expected info fallback, got %v", got)
	}
}
