package clock

import (
	"testing"
	"time"
)

func TestNextFire_Hourly(t *testing.T) {
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC).Unix()
	next, err := NextFire("0 * * * *", base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC).Unix()
	if next != want {
		t.Fatalf("next = %d, want %d", next, want)
	}
}

func TestValidateCron_Rejects(t *testing.T) {
	if err := ValidateCron("not a cron expr"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	var badCron *BadCron
	if err := ValidateCron("*/5 * * * *"); err != nil {
		t.Fatalf("unexpected error for valid cron expression: %v", err)
	}
	_ = badCron
}
