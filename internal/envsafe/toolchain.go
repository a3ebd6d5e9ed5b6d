// Package envsafe builds the environment handed to external toolchain processes.
package envsafe

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// toolchainAllowedEnv is what node, npm and tsc need to resolve modules and
// reach a registry. Deploy credentials present in the caller's environment are
// never forwarded to code the audited repository controls.
var toolchainAllowedEnv = map[string]struct{}{
	"PATH":            {},
	"HOME":            {},
	"USER":            {},
	"LOGNAME":         {},
	"SHELL":           {},
	"TERM":            {},
	"LANG":            {},
	"LC_ALL":          {},
	"LC_CTYPE":        {},
	"TMPDIR":          {},
	"TMP":             {},
	"TEMP":            {},
	"XDG_CONFIG_HOME": {},
	"XDG_CACHE_HOME":  {},
	"XDG_DATA_HOME":   {},
	"SSL_CERT_FILE":   {},
	"SSL_CERT_DIR":    {},
	"HTTP_PROXY":      {},
	"HTTPS_PROXY":     {},
	"NO_PROXY":        {},
	"http_proxy":      {},
	"https_proxy":     {},
	"no_proxy":        {},

	"NODE_OPTIONS":          {},
	"NODE_PATH":             {},
	"NODE_EXTRA_CA_CERTS":   {},
	"NPM_CONFIG_CACHE":      {},
	"NPM_CONFIG_REGISTRY":   {},
	"npm_config_cache":      {},
	"npm_config_registry":   {},
	"npm_config_userconfig": {},

	// Windows process basics; npx.cmd does not start without them.
	"SYSTEMROOT":   {},
	"COMSPEC":      {},
	"PATHEXT":      {},
	"APPDATA":      {},
	"LOCALAPPDATA": {},
	"USERPROFILE":  {},
}

// ToolchainEnv returns a deterministic, explicit env allowlist for tsc and npx.
// PATH keeps only absolute entries.
func ToolchainEnv(in []string) []string {
	outMap := make(map[string]string, len(toolchainAllowedEnv))
	for _, kv := range in {
		idx := strings.IndexByte(kv, '=')
		if idx <= 0 {
			continue
		}
		key := normalizeKey(kv[:idx])
		val := kv[idx+1:]
		if _, ok := toolchainAllowedEnv[key]; !ok {
			continue
		}
		if key == "PATH" {
			val = sanitizePathValue(val)
		}
		outMap[key] = val
	}
	if v, ok := outMap["PATH"]; !ok || strings.TrimSpace(v) == "" {
		outMap["PATH"] = defaultSafePath()
	}

	keys := make([]string, 0, len(outMap))
	for k := range outMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+outMap[k])
	}
	return out
}

// normalizeKey folds case on Windows, where Path and PATH name the same variable.
func normalizeKey(key string) string {
	if runtime.GOOS == "windows" {
		return strings.ToUpper(key)
	}
	return key
}

func sanitizePathValue(in string) string {
	if strings.TrimSpace(in) == "" {
		return defaultSafePath()
	}

	parts := strings.Split(in, string(os.PathListSeparator))
	seen := map[string]struct{}{}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." || part == ".." {
			continue
		}
		if !filepath.IsAbs(part) {
			continue
		}
		clean := filepath.Clean(part)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	if len(out) == 0 {
		return defaultSafePath()
	}
	return strings.Join(out, string(os.PathListSeparator))
}

func defaultSafePath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32;C:\Windows`
	}
	return "/usr/local/bin:/usr/bin:/bin"
}
