package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shotcaller-ai/shotcaller/internal/narrate/tts"
	ttsmock "github.com/shotcaller-ai/shotcaller/internal/narrate/tts/mock"
)

func TestFallbackGroupUsesPrimaryWhenHealthy(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	var used string
	err := fg.Execute(func(v string) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != "primary" {
		t.Errorf("used = %q, want primary", used)
	}
}

func TestFallbackGroupFailsOverToBackup(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	var used string
	err := fg.Execute(func(v string) error {
		if v == "primary" {
			return errBoom
		}
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != "backup" {
		t.Errorf("used = %q, want backup", used)
	}
}

func TestFallbackGroupAllFail(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	err := fg.Execute(func(string) error { return errBoom })
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenCircuit(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("backup", "backup")

	// Trip the primary's breaker.
	fg.Execute(func(v string) error {
		if v == "primary" {
			return errBoom
		}
		return nil
	})

	var calls []string
	err := fg.Execute(func(v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(calls) != 1 || calls[0] != "backup" {
		t.Errorf("calls = %v, want [backup] only", calls)
	}
}

func TestExecuteWithResultReturnsValue(t *testing.T) {
	fg := NewFallbackGroup(2, "primary", FallbackConfig{})
	fg.AddFallback("backup", 3)

	got, err := ExecuteWithResult(fg, func(v int) (int, error) {
		if v == 2 {
			return 0, errBoom
		}
		return v * 10, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != 30 {
		t.Errorf("result = %d, want 30", got)
	}
}

func TestExecuteWithResultAllFail(t *testing.T) {
	fg := NewFallbackGroup(1, "primary", FallbackConfig{})

	_, err := ExecuteWithResult(fg, func(int) (int, error) {
		return 0, errBoom
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallbackSwitchesProvider(t *testing.T) {
	primary := &ttsmock.Provider{Err: errBoom}
	backup := &ttsmock.Provider{Result: tts.Result{
		PCM:        make([]byte, 4410),
		SampleRate: 22050,
		DurationMs: 100,
	}}

	f := NewTTSFallback(primary, "piper", FallbackConfig{})
	f.AddFallback("mock", backup)

	res, err := f.Synthesize(context.Background(), "over to camera two")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.DurationMs != 100 {
		t.Errorf("DurationMs = %d, want 100", res.DurationMs)
	}
	if got := backup.Texts(); len(got) != 1 || got[0] != "over to camera two" {
		t.Errorf("backup texts = %v", got)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !primary.Closed() || !backup.Closed() {
		t.Error("Close did not reach all providers")
	}
}
