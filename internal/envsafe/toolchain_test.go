package envsafe

import (
	"os"
	"runtime"
	"strings"
	"testing"
)

func envSet(env []string) map[string]bool {
	out := make(map[string]bool, len(env))
	for _, kv := range env {
		out[kv] = true
	}
	return out
}

func TestToolchainEnv_ExplicitAllowlist(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	env := envSet(ToolchainEnv([]string{
		"PATH=.:relative:/usr/bin:/usr/bin",
		"NODE_OPTIONS=--max-old-space-size=4096",
		"npm_config_cache=/tmp/npm",
		"SUPABASE_SERVICE_KEY=eyJsecret",
		"ENCRYPTION_KEY=blocked",
		"GITHUB_TOKEN=ghp_blocked",
	}))

	if !env["PATH=/usr/bin"] {
		t.Fatal("expected PATH to be sanitized and forwarded")
	}
	if !env["NODE_OPTIONS=--max-old-space-size=4096"] {
		t.Fatal("expected NODE_OPTIONS to be forwarded")
	}
	if !env["npm_config_cache=/tmp/npm"] {
		t.Fatal("expected npm cache config to be forwarded")
	}
	for kv := range env {
		for _, secret := range []string{"SUPABASE_SERVICE_KEY", "ENCRYPTION_KEY", "GITHUB_TOKEN"} {
			if strings.HasPrefix(kv, secret+"=") {
				t.Fatalf("did not expect %s to be forwarded", secret)
			}
		}
	}
}

func TestToolchainEnv_DefaultPathWhenMissing(t *testing.T) {
	env := ToolchainEnv([]string{"HOME=/home/dev"})
	found := false
	for _, kv := range env {
		if kv == "PATH="+defaultSafePath() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected default PATH, got %v", env)
	}
}

func TestToolchainEnv_MalformedEntriesAndDeterminism(t *testing.T) {
	in := []string{"=nokey", "NOEQUALS", "TERM=xterm", "HOME=/a", "HOME=/b", "LANG=C"}
	first := ToolchainEnv(in)
	second := ToolchainEnv(in)
	if strings.Join(first, "\n") != strings.Join(second, "\n") {
		t.Fatal("expected deterministic output")
	}
	for i := 1; i < len(first); i++ {
		if first[i-1] > first[i] {
			t.Fatalf("expected sorted output, got %v", first)
		}
	}
	env := envSet(first)
	if !env["HOME=/b"] {
		t.Fatal("expected the last duplicate to win")
	}
	for kv := range env {
		if strings.HasPrefix(kv, "=") || kv == "NOEQUALS" {
			t.Fatalf("unexpected malformed entry %q", kv)
		}
	}
}

func TestSanitizePathValue(t *testing.T) {
	if got := sanitizePathValue(". : ../x"); got != defaultSafePath() {
		t.Fatalf("expected fallback path, got %q", got)
	}
	if runtime.GOOS == "windows" {
		return
	}
	sep := string(os.PathListSeparator)
	got := sanitizePathValue("/usr/bin" + sep + "/usr/local/bin/" + sep + "/usr/bin")
	if got != "/usr/bin"+sep+"/usr/local/bin" {
		t.Fatalf("unexpected path %q", got)
	}
}
