package params

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeclareAndGet(t *testing.T) {
	s := NewStore()

	v, err := s.Declare("high_busyloop", 0.01)
	if err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	if v != 0.01 {
		t.Errorf("Declare returned %v, want 0.01", v)
	}

	got, err := s.Get("high_busyloop")
	if err != nil || got != 0.01 {
		t.Errorf("Get = %v, %v; want 0.01, nil", got, err)
	}

	d, err := s.Seconds("high_busyloop")
	if err != nil || d != 10*time.Millisecond {
		t.Errorf("Seconds = %v, %v; want 10ms, nil", d, err)
	}

	if _, err := s.Declare("high_busyloop", 1); !errors.Is(err, ErrAlreadyDeclared) {
		t.Errorf("second Declare error = %v, want ErrAlreadyDeclared", err)
	}
}

func TestValidation(t *testing.T) {
	s := NewStore()
	_, _ = s.Declare("low_busyloop", 0.01)

	tests := []struct {
		name    string
		value   float64
		wantErr error
	}{
		{"zero allowed", 0, nil},
		{"positive", 0.5, nil},
		{"negative", -0.1, ErrNegative},
		{"nan", math.NaN(), ErrNotFinite},
		{"inf", math.Inf(1), ErrNotFinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Set("low_busyloop", tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Set(%v) error = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}

	if _, err := s.Declare("bad", -1); !errors.Is(err, ErrNegative) {
		t.Errorf("Declare(-1) error = %v, want ErrNegative", err)
	}
}

func TestUnknownParameter(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("nope"); !errors.Is(err, ErrUnknown) {
		t.Errorf("Get error = %v, want ErrUnknown", err)
	}
	if err := s.Set("nope", 1); !errors.Is(err, ErrUnknown) {
		t.Errorf("Set error = %v, want ErrUnknown", err)
	}
	if err := s.OnChange("nope", func(string, float64) {}); !errors.Is(err, ErrUnknown) {
		t.Errorf("OnChange error = %v, want ErrUnknown", err)
	}
}

func TestOverride(t *testing.T) {
	s := NewStore()
	_, _ = s.Declare("already", 1)

	if err := s.Override(map[string]float64{"later": 0.2, "already": 3}); err != nil {
		t.Fatalf("Override failed: %v", err)
	}

	if v, _ := s.Get("already"); v != 3 {
		t.Errorf("declared parameter = %v, want 3", v)
	}

	v, err := s.Declare("later", 0.01)
	if err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	if v != 0.2 {
		t.Errorf("Declare with override = %v, want 0.2", v)
	}

	if err := s.Override(map[string]float64{"x": -1}); !errors.Is(err, ErrNegative) {
		t.Errorf("negative Override error = %v, want ErrNegative", err)
	}
}

func TestOnChange(t *testing.T) {
	s := NewStore()
	_, _ = s.Declare("ping_period", 0.1)

	var calls atomic.Int32
	var last atomic.Value
	_ = s.OnChange("ping_period", func(name string, v float64) {
		calls.Add(1)
		last.Store(v)
	})

	_ = s.Set("ping_period", 0.05)
	if calls.Load() != 1 || last.Load().(float64) != 0.05 {
		t.Errorf("callback calls=%d last=%v", calls.Load(), last.Load())
	}
}

func TestConcurrentSetGet(t *testing.T) {
	s := NewStore()
	_, _ = s.Declare("high_busyloop", 0)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = s.Set("high_busyloop", float64(i))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				v, _ := s.Get("high_busyloop")
				if v < 0 || v > 3 {
					t.Errorf("torn read %v", v)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestSnapshotAndNames(t *testing.T) {
	s := NewStore()
	_, _ = s.Declare("b", 2)
	_, _ = s.Declare("a", 1)

	names := s.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
	snap := s.Snapshot()
	if snap["a"] != 1 || snap["b"] != 2 {
		t.Errorf("Snapshot = %v", snap)
	}
}
