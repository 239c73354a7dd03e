package cli

import (
	"testing"
	"time"
)

func TestSecondsToDuration_UsesGivenSeconds(t *testing.T) {
	if got := secondsToDuration(10, 5); got != 10*time.Second {
		t.Errorf("got %v, want 10s", got)
	}
}

func TestSecondsToDuration_FallsBackWhenZeroOrNegative(t *testing.T) {
	if got := secondsToDuration(0, 5); got != 5*time.Second {
		t.Errorf("got %v, want fallback 5s", got)
	}
	if got := secondsToDuration(-1, 5); got != 5*time.Second {
		t.Errorf("got %v, want fallback 5s", got)
	}
}
