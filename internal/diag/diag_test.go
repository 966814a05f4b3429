package diag

import "testing"

func TestLevelGating(t *testing.T) {
	t.Cleanup(func() { SetLevel(Verbose) })

	SetLevel(Info)

	if !enabled(Verbose) {
		t.Error("Verbose records should be enabled at Info level")
	}

	if enabled(Debug) {
		t.Error("Debug records should be gated out at Info level")
	}

	if enabled(Info) {
		t.Error("a record at exactly the current level should not be emitted")
	}
}

func TestSetLevelRoundTrip(t *testing.T) {
	t.Cleanup(func() { SetLevel(Verbose) })

	for _, l := range []Level{Emerg, Verbose, Warning, Info, Debug} {
		SetLevel(l)

		if got := CurrentLevel(); got != l {
			t.Errorf("CurrentLevel() = %v, want %v", got, l)
		}
	}
}
