package agent

import (
	"context"
	"testing"
	"time"
)

func TestScheduler_RegistersJobs(t *testing.T) {
	s := NewScheduler(testLogger())
	if err := s.Every(ProactiveSpec, "proactive", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.Every(BackfillSpec, "backfill", func() {}); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 jobs, got %d", s.Len())
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewScheduler(testLogger())
	if err := s.Every("not a spec", "bad", func() {}); err == nil {
		t.Fatal("expected an error for an invalid spec")
	}
}

func TestScheduler_RunsAndSurvivesPanic(t *testing.T) {
	s := NewScheduler(testLogger())
	ran := make(chan struct{}, 4)
	if err := s.Every("@every 1s", "panics", func() { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	if err := s.Every("@every 1s", "counts", func() { ran <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}

func TestEngine_ScheduleRegistersJobs(t *testing.T) {
	f := newEngineFixture(t)
	s := NewScheduler(testLogger())
	if err := f.engine.Schedule(context.Background(), s, "", "@every 10m"); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 jobs, got %d", s.Len())
	}
	if err := f.engine.Schedule(context.Background(), NewScheduler(testLogger()), "nope", ""); err == nil {
		t.Fatal("expected an invalid proactive spec to fail")
	}
}
