// Package redact masks credentials in source lines before they reach a report.
package redact

import "regexp"

var (
	privateKeyPattern = regexp.MustCompile(`-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z0-9 ]*PRIVATE KEY-----`)
	bearerPattern     = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/=-]{8,}`)
	jwtPattern        = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`)
	supabaseKey       = regexp.MustCompile(`\bsb_secret_[A-Za-z0-9_-]{16,}`)
	tokenAssign       = regexp.MustCompile(`(?i)\b([A-Za-z0-9_]*(?:api[_-]?key|secret|token|password|passwd|pwd|role[_-]?key|encryption[_-]?key)[A-Za-z0-9_]*)(["']?\s*[:=]\s*)(["'` + "`" + `]?)([A-Za-z0-9._~+/=-]{8,})(["'` + "`" + `]?)`)
	connectionCreds   = regexp.MustCompile(`\b([a-z][a-z0-9+.-]*://[^:/\s@]+:)([^@\s]+)(@)`)
	awsAccessKey      = regexp.MustCompile(`\b(A3T|AKIA|ASIA|AGPA|AIDA|ANPA|ANVA|AROA|AIPA)[0-9A-Z]{16}\b`)
	githubToken       = regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`)
	stripeKey         = regexp.MustCompile(`\b[rs]k_(?:live|test)_[A-Za-z0-9]{16,}\b`)
)

// Text masks common secret and token patterns. Anything that does not look like a
// credential is returned unchanged.
func Text(in string) string {
	out := in
	out = privateKeyPattern.ReplaceAllString(out, "[REDACTED PRIVATE KEY]")
	out = bearerPattern.ReplaceAllString(out, "Bearer [REDACTED]")
	out = jwtPattern.ReplaceAllString(out, "[REDACTED_JWT]")
	out = supabaseKey.ReplaceAllString(out, "[REDACTED_SUPABASE_KEY]")
	out = tokenAssign.ReplaceAllString(out, `${1}${2}${3}[REDACTED]${5}`)
	out = connectionCreds.ReplaceAllString(out, `${1}[REDACTED]${3}`)
	out = awsAccessKey.ReplaceAllString(out, "[REDACTED_AWS_ACCESS_KEY]")
	out = githubToken.ReplaceAllString(out, "[REDACTED_GITHUB_TOKEN]")
	out = stripeKey.ReplaceAllString(out, "[REDACTED_STRIPE_KEY]")
	return out
}

func Strings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		out = append(out, Text(item))
	}
	return out
}
