package log

import "testing"

func TestSetLevelBeforeInit(t *testing.T) {
	if err := SetLevel("WARNING"); err != nil {
		t.Fatalf("SetLevel before Init: %v", err)
	}
	if got := Level(); got != "WARNING" {
		t.Errorf("Level() = %q, want WARNING", got)
	}
	if err := SetLevel("ALL"); err != nil {
		t.Fatalf("SetLevel(ALL): %v", err)
	}
	if got := Level(); got != "ALL" {
		t.Errorf("Level() = %q, want ALL", got)
	}
}

func TestSetLevelRejectsUnknownName(t *testing.T) {
	if err := SetLevel("sideways"); err == nil {
		t.Error("unknown level name accepted")
	}
}

func TestScrubBody(t *testing.T) {
	got := ScrubBody("PASSKEY=AABB&tempf=68.0&secret=hunter2", []string{"passkey", "secret"})
	want := "PASSKEY=***&tempf=68.0&secret=***"
	if got != want {
		t.Errorf("ScrubBody = %q, want %q", got, want)
	}
}
