package lock

import "testing"

func TestErrAlreadyRunning_Error(t *testing.T) {
	err := &ErrAlreadyRunning{Name: "changefollower", PIDs: []int{123, 456}}
	want := "lock: changefollower is already running with pid(s): 123 456"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestEnsureSingleInstance_NoOtherProcess(t *testing.T) {
	// No real binary on the test machine will be named this, so pidof
	// should report nothing and EnsureSingleInstance should succeed.
	if err := EnsureSingleInstance("definitely-not-a-real-process-name-xyz"); err != nil {
		t.Errorf("EnsureSingleInstance() error = %v, want nil", err)
	}
}
