package version

import "testing"

func TestLine(t *testing.T) {
	if got := Line("predeploy"); got != "predeploy version dev" {
		t.Fatalf("unbuilt banner = %q, want %q", got, "predeploy version dev")
	}

	orig := Version
	t.Cleanup(func() { Version = orig })
	Version = "v1.4.0"
	if got := Line("predeploy"); got != "predeploy version v1.4.0" {
		t.Fatalf("stamped banner = %q", got)
	}
}
