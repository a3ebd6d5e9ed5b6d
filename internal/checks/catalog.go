// Package checks holds the concrete audit rules and the domain data they read.
package checks

import (
	"fmt"
	"regexp"
	"strings"

	"predeploy/internal/snapshot"
)

// Catalog is the domain knowledge of the rule set: audited paths, variable names and
// allow-lists. Every field can be overridden from the config file.
type Catalog struct {
	Layout snapshot.Layout `yaml:"layout" json:"layout"`

	KongConfig       string   `yaml:"kong_config" json:"kong_config"`
	KongPlaceholders []string `yaml:"kong_placeholders" json:"kong_placeholders"`
	KongKeyVars      []string `yaml:"kong_key_vars" json:"kong_key_vars"`
	KongService      string   `yaml:"kong_service" json:"kong_service"`
	KeyAuthServices  []string `yaml:"key_auth_services" json:"key_auth_services"`

	CIWorkflow       string   `yaml:"ci_workflow" json:"ci_workflow"`
	Dockerfile       string   `yaml:"dockerfile" json:"dockerfile"`
	DockerSecretVars []string `yaml:"docker_secret_vars" json:"docker_secret_vars"`

	PublicEnvPrefix string   `yaml:"public_env_prefix" json:"public_env_prefix"`
	PublicEnvDanger string   `yaml:"public_env_danger" json:"public_env_danger"`
	ServerURLVar    string   `yaml:"server_url_var" json:"server_url_var"`
	PublicURLVar    string   `yaml:"public_url_var" json:"public_url_var"`
	ComposeFile     string   `yaml:"compose_file" json:"compose_file"`
	EnvExampleFiles []string `yaml:"env_example_files" json:"env_example_files"`
	EnvIgnoredVars  []string `yaml:"env_ignored_vars" json:"env_ignored_vars"`
	EnvMissingLimit int      `yaml:"env_missing_limit" json:"env_missing_limit"`

	LayoutFile           string   `yaml:"layout_file" json:"layout_file"`
	BrowserClientFile    string   `yaml:"browser_client_file" json:"browser_client_file"`
	RuntimeConfigMarker  string   `yaml:"runtime_config_marker" json:"runtime_config_marker"`
	RuntimeConfigAliases []string `yaml:"runtime_config_aliases" json:"runtime_config_aliases"`
	ServerOnlyVars       []string `yaml:"server_only_vars" json:"server_only_vars"`
	EnvValidationFile    string   `yaml:"env_validation_file" json:"env_validation_file"`
	LazyValidatedVar     string   `yaml:"lazy_validated_var" json:"lazy_validated_var"`

	SafeOptionalChains []string `yaml:"safe_optional_chains" json:"safe_optional_chains"`
	SensitiveWords     []string `yaml:"sensitive_words" json:"sensitive_words"`
	UserEventHandlers  []string `yaml:"user_event_handlers" json:"user_event_handlers"`

	PublicRoutes      []string `yaml:"public_routes" json:"public_routes"`
	AuthSignals       []string `yaml:"auth_signals" json:"auth_signals"`
	CriticalRouteDirs []string `yaml:"critical_route_dirs" json:"critical_route_dirs"`

	VerifyScript string   `yaml:"verify_script" json:"verify_script"`
	SmokeMarkers []string `yaml:"smoke_markers" json:"smoke_markers"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		Layout: snapshot.DefaultLayout(),

		KongConfig:       "deploy/supabase/kong.yml",
		KongPlaceholders: []string{"${SUPABASE_ANON_KEY}", "${SUPABASE_SERVICE_KEY}"},
		KongKeyVars:      []string{"SUPABASE_ANON_KEY", "SUPABASE_SERVICE_KEY"},
		KongService:      "kong",
		KeyAuthServices:  []string{"rest-v1", "storage-v1"},

		CIWorkflow:       ".github/workflows/ci.yml",
		Dockerfile:       "Dockerfile",
		DockerSecretVars: []string{"ENCRYPTION_KEY", "SUPABASE_SERVICE_ROLE_KEY"},

		PublicEnvPrefix: "NEXT_PUBLIC_",
		PublicEnvDanger: `(?i)(secret|password|passwd|service_role|private_?key)`,
		ServerURLVar:    "SUPABASE_URL",
		PublicURLVar:    "NEXT_PUBLIC_SUPABASE_URL",
		ComposeFile:     "deploy/docker-compose.yml",
		EnvExampleFiles: []string{"deploy/.env.example", ".env.example"},
		EnvIgnoredVars:  []string{"GITHUB_SHA", "DOMAIN", "CI", "GITHUB_REPO"},
		EnvMissingLimit: 20,

		LayoutFile:           "src/app/layout.tsx",
		BrowserClientFile:    "src/lib/supabase/client.ts",
		RuntimeConfigMarker:  "__LEBENSORDNER_PUBLIC_CONFIG__",
		RuntimeConfigAliases: []string{"runtimeConfig"},
		ServerOnlyVars: []string{
			"SUPABASE_SERVICE_ROLE_KEY", "ENCRYPTION_KEY", "JWT_SECRET",
			"POSTGRES_PASSWORD", "STRIPE_SECRET_KEY", "RESEND_API_KEY",
			"CRON_SECRET", "TURNSTILE_SECRET_KEY",
		},
		EnvValidationFile: "src/lib/config/validate-env.ts",
		LazyValidatedVar:  "ENCRYPTION_KEY",

		// Intermediate properties these APIs always define once the receiver exists.
		SafeOptionalChains: []string{
			`\?\.headers\.get\(`,
			`\?\.body\.getReader\(`,
			`\?\.data\.`,
		},
		SensitiveWords:    []string{"password", "service_role_key", "encryption_key", "jwt_secret", "private_key"},
		UserEventHandlers: []string{"onClick", "onSubmit", "onPress"},

		PublicRoutes: []string{
			"auth/login", "auth/register", "auth/callback",
			"auth/password-reset", "auth/verify",
			"auth/2fa/verify",
			"health", "webhook", "metrics", "cron",
			"download-link",
			"invitation",
			"errors/log",
			"feedback",
			"stripe/prices",
		},
		AuthSignals: []string{
			"getUser(",
			"requireAdmin()", "requireAuth()", "getSession()",
			"validateCronSecret", "CRON_SECRET", "METRICS_SECRET",
			"GRAFANA_WEBHOOK_SECRET", "TELEGRAM_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET",
		},
		CriticalRouteDirs: []string{"src/app/api/consent", "src/app/api/health", "src/app/api/vault"},

		VerifyScript: "scripts/ops/verify-deploy.sh",
		SmokeMarkers: []string{"verify-deploy.sh", "smoke-check"},
	}
}

// compiled is a validated catalog with its patterns ready for use.
type compiled struct {
	Catalog
	publicDanger *regexp.Regexp
	safeChains   []*regexp.Regexp
	sensitive    *regexp.Regexp
	handlers     *regexp.Regexp
}

// Validate reports the first catalog entry that cannot be used.
func (c Catalog) Validate() error {
	_, err := c.compile()
	return err
}

func (c Catalog) compile() (*compiled, error) {
	required := map[string]string{
		"kong_config":       c.KongConfig,
		"ci_workflow":       c.CIWorkflow,
		"dockerfile":        c.Dockerfile,
		"public_env_prefix": c.PublicEnvPrefix,
		"compose_file":      c.ComposeFile,
		"layout_file":       c.LayoutFile,
		"verify_script":     c.VerifyScript,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("catalog: %s is required", key)
		}
	}

	out := &compiled{Catalog: c}
	var err error
	if out.publicDanger, err = regexp.Compile(c.PublicEnvDanger); err != nil {
		return nil, fmt.Errorf("catalog: public_env_danger: %w", err)
	}
	for i, pattern := range c.SafeOptionalChains {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("catalog: safe_optional_chains[%d]: %w", i, err)
		}
		out.safeChains = append(out.safeChains, re)
	}
	if out.sensitive, err = wordAlternation(c.SensitiveWords, true); err != nil {
		return nil, fmt.Errorf("catalog: sensitive_words: %w", err)
	}
	if out.handlers, err = wordAlternation(c.UserEventHandlers, false); err != nil {
		return nil, fmt.Errorf("catalog: user_event_handlers: %w", err)
	}
	if out.EnvMissingLimit <= 0 {
		out.EnvMissingLimit = 20
	}
	return out, nil
}

// wordAlternation builds \b(w1|w2|...)\b from literal words.
func wordAlternation(words []string, fold bool) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) == 0 {
		return nil, nil
	}
	pattern := `\b(` + strings.Join(quoted, "|") + `)\b`
	if fold {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
