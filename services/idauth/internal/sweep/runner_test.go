package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTarget struct {
	mu       sync.Mutex
	otpRuns  int
	tokRuns  int
	otpErr   error
	tokenErr error
}

func (f *fakeTarget) CleanupOTPs(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otpRuns++
	return 3, f.otpErr
}

func (f *fakeTarget) SweepTokens(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokRuns++
	return 1, f.tokenErr
}

func (f *fakeTarget) runs() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.otpRuns, f.tokRuns
}

func TestRunOnceRunsBothSweeps(t *testing.T) {
	target := &fakeTarget{otpErr: errors.New("db down")}
	r := NewRunner(target, time.Minute, nil)

	err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected otp cleanup error")
	}
	if otps, tokens := target.runs(); otps != 1 || tokens != 1 {
		t.Fatalf("expected both sweeps to run, got %d %d", otps, tokens)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	target := &fakeTarget{}
	r := NewRunner(target, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if otps, _ := target.runs(); otps >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected runner to stop after cancel")
	}
	if otps, _ := target.runs(); otps < 2 {
		t.Fatalf("expected repeated sweeps, got %d", otps)
	}
}

func TestRunDisabled(t *testing.T) {
	target := &fakeTarget{}
	NewRunner(target, 0, nil).Run(context.Background())
	if otps, _ := target.runs(); otps != 0 {
		t.Fatalf("expected no sweeps when disabled")
	}
}
