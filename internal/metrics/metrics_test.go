package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHelpersNoopBeforeRegister(t *testing.T) {
	// must not panic or record anything while unregistered
	IncStarted("vanilla")
	IncFinished("vanilla", "passed")
	ObserveDuration("vanilla", 1.5)
	SetRunning(2)
	SetConsecutiveTimeouts(1)
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
	IncStarted("vanilla")
	IncFinished("vanilla", "failed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "dipot_suite_tests_started_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("started counter not gathered")
	}
}
