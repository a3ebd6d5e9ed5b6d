package checks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predeploy/internal/engine"
	"predeploy/internal/model"
	"predeploy/internal/scan"
	"predeploy/internal/snapshot"
	"predeploy/internal/verdict"
)

const healthyKong = `_format_version: "2.1"
consumers:
  - username: anon
    keyauth_credentials:
      - key: ${SUPABASE_ANON_KEY}
  - username: service_role
    keyauth_credentials:
      - key: ${SUPABASE_SERVICE_KEY}
services:
  - name: rest-v1
    url: http://rest:3000/
    routes:
      - name: rest-v1-all
        paths:
          - /rest/v1/
    plugins:
      - name: cors
      - name: key-auth
        config:
          hide_credentials: true
  - name: storage-v1
    url: http://storage:5000/
    routes:
      - name: storage-v1-all
        paths:
          - /storage/v1/
        plugins:
          - name: key-auth
`

const healthyCI = `name: ci
on: [push]
env:
  SUPABASE_URL: ${{ secrets.SUPABASE_URL }}
  NEXT_PUBLIC_SUPABASE_URL: ${{ secrets.SUPABASE_URL }}
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - name: Deploy
        run: |
          ssh deploy@host <<'EOF'
            sed -i "s|\${SUPABASE_ANON_KEY}|$ANON|g" deploy/supabase/kong.yml
            sed -i "s|\${SUPABASE_SERVICE_KEY}|$SERVICE|g" deploy/supabase/kong.yml
            docker compose up -d --force-recreate kong
          EOF
      - name: Smoke
        run: ./scripts/ops/verify-deploy.sh
`

func healthyRepo() map[string]string {
	return map[string]string{
		"deploy/supabase/kong.yml":       healthyKong,
		".github/workflows/ci.yml":       healthyCI,
		"Dockerfile":                     "FROM node:20\nARG NODE_ENV=production\nRUN --mount=type=secret,id=encryption_key npm run build\n",
		"deploy/docker-compose.yml":      "services:\n  app:\n    image: app:${GITHUB_SHA:-latest}\n    environment:\n      - SUPABASE_URL=${SUPABASE_URL}\n      # - LEGACY=${LEGACY_VAR}\n",
		"deploy/.env.example":            "# documented\nSUPABASE_URL=https://example.supabase.co\n",
		"src/app/layout.tsx":             "<script>{`window.__LEBENSORDNER_PUBLIC_CONFIG__ = ${json}`}</script>\n",
		"src/lib/supabase/client.ts":     "'use client'\nconst url = runtimeConfig().url\n",
		"src/lib/config/validate-env.ts": "const required = ['SUPABASE_URL']\n",
		"src/lib/session.ts":             "const user = res?.data.user\nconst h = req?.headers.get('x')\n",
		"src/app/api/health/route.ts":    "export async function GET() {\n  try {\n    return ok()\n  } catch (e) {\n    throw e\n  }\n}\n",
		"src/app/api/users/route.ts":     "export async function GET() {\n  const user = await getUser()\n}\n",
		"scripts/ops/verify-deploy.sh":   "check SUPABASE_ANON_KEY\ncurl rest/v1 -H apikey\ncurl /api/health\ncurl prometheus\ndocker compose ps\n",
	}
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func runAll(t *testing.T, files map[string]string) *verdict.Aggregator {
	t.Helper()
	snap, err := snapshot.New(writeRepo(t, files), snapshot.DefaultLayout())
	require.NoError(t, err)
	reg := engine.NewRegistry()
	require.NoError(t, Register(reg, DefaultCatalog()))
	env := engine.Env{Snapshot: snap, Scanner: scan.New(snap, scan.Options{})}
	return reg.Run(context.Background(), env, engine.RunOptions{Workers: 4})
}

func byRule(findings []model.Finding) map[string][]model.Finding {
	out := make(map[string][]model.Finding)
	for _, f := range findings {
		out[f.Rule] = append(out[f.Rule], f)
	}
	return out
}

func finding(t *testing.T, files map[string]string, rule string) model.Finding {
	t.Helper()
	got := byRule(runAll(t, files).Findings())[rule]
	require.Len(t, got, 1, "rule %s", rule)
	return got[0]
}

func with(overrides map[string]string) map[string]string {
	files := healthyRepo()
	for k, v := range overrides {
		if v == "" {
			delete(files, k)
			continue
		}
		files[k] = v
	}
	return files
}

func TestRegister_RuleCatalogueOrder(t *testing.T) {
	reg := engine.NewRegistry()
	require.NoError(t, Register(reg, DefaultCatalog()))
	var ids []string
	for _, e := range reg.Entries() {
		ids = append(ids, e.Rule.ID)
	}
	assert.Equal(t, []string{
		"kong-placeholders", "ci-kong-sed", "ci-kong-recreate", "kong-key-auth",
		"dockerfile-secret-args", "public-env-names", "supabase-url-consistency", "compose-env-coverage",
		"runtime-config-injection", "browser-runtime-config", "client-server-envs", "encryption-key-early-validation",
		"optional-chaining", "instanceof-arraybuffer", "console-sensitive",
		"client-redirect-loop", "server-page-redirects",
		"api-route-auth", "critical-endpoint-errors",
		"verify-deploy-script", "ci-smoke-check",
	}, ids)
	assert.Len(t, reg.Sections(), 7)
}

func TestRegister_RejectsInvalidCatalog(t *testing.T) {
	cat := DefaultCatalog()
	cat.SafeOptionalChains = []string{`(`}
	require.Error(t, Register(engine.NewRegistry(), cat))

	cat = DefaultCatalog()
	cat.KongConfig = " "
	require.Error(t, cat.Validate())
}

func TestEmptySnapshot_OneFindingPerRule(t *testing.T) {
	agg := runAll(t, nil)
	got := byRule(agg.Findings())
	want := map[string]model.Severity{
		"kong-placeholders":               model.SeverityFail,
		"ci-kong-sed":                     model.SeverityWarn,
		"ci-kong-recreate":                model.SeverityWarn,
		"kong-key-auth":                   model.SeverityWarn,
		"dockerfile-secret-args":          model.SeverityPass,
		"public-env-names":                model.SeverityPass,
		"supabase-url-consistency":        model.SeverityWarn,
		"compose-env-coverage":            model.SeverityWarn,
		"runtime-config-injection":        model.SeverityFail,
		"browser-runtime-config":          model.SeverityWarn,
		"client-server-envs":              model.SeverityPass,
		"encryption-key-early-validation": model.SeverityWarn,
		"optional-chaining":               model.SeverityPass,
		"instanceof-arraybuffer":          model.SeverityPass,
		"console-sensitive":               model.SeverityPass,
		"client-redirect-loop":            model.SeverityPass,
		"server-page-redirects":           model.SeverityPass,
		"api-route-auth":                  model.SeverityWarn,
		"critical-endpoint-errors":        model.SeverityPass,
		"verify-deploy-script":            model.SeverityFail,
		"ci-smoke-check":                  model.SeverityWarn,
	}
	require.Len(t, agg.Findings(), len(want))
	for rule, sev := range want {
		require.Len(t, got[rule], 1, rule)
		assert.Equal(t, sev, got[rule][0].Severity, rule)
	}
}

func TestHealthyRepo_AllPass(t *testing.T) {
	agg := runAll(t, healthyRepo())
	for _, f := range agg.Findings() {
		assert.Equal(t, model.SeverityPass, f.Severity, "%s: %s %v", f.Rule, f.Check, f.Hits)
	}
	v := agg.Verdict(false)
	assert.Equal(t, model.SeverityPass, v.Outcome)
	assert.Equal(t, 0, v.ExitCode())
	assert.Contains(t, v.Message(), "safe to deploy")
}

func TestKongPlaceholders_MissingTokenFailsRun(t *testing.T) {
	kong := strings.Replace(healthyKong, "${SUPABASE_SERVICE_KEY}", "eyJhbGciOiJIUzI1NiJ9.resolved", 1)
	agg := runAll(t, with(map[string]string{"deploy/supabase/kong.yml": kong}))

	var fails []model.Finding
	for _, f := range agg.Findings() {
		if f.Severity == model.SeverityFail {
			fails = append(fails, f)
		}
	}
	require.Len(t, fails, 1)
	assert.Equal(t, "kong-placeholders", fails[0].Rule)
	assert.Contains(t, fails[0].Check, "${SUPABASE_SERVICE_KEY}")
	assert.NotContains(t, fails[0].Check, "${SUPABASE_ANON_KEY}")

	v := agg.Verdict(false)
	assert.Equal(t, model.SeverityFail, v.Outcome)
	assert.Equal(t, 1, v.ExitCode())
}

func TestClientServerEnvs_ServiceRoleKeyInClientFile(t *testing.T) {
	agg := runAll(t, with(map[string]string{
		"src/components/Admin.tsx": "'use client'\nimport x from 'y'\nconst k = process.env.SUPABASE_SERVICE_ROLE_KEY\n",
		"src/lib/server.ts":        "const k = process.env.SUPABASE_SERVICE_ROLE_KEY\n",
	}))
	got := byRule(agg.Findings())["client-server-envs"]
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityFail, got[0].Severity)
	require.Len(t, got[0].Hits, 1)
	assert.Equal(t, model.Hit{File: "src/components/Admin.tsx", Line: 3, Text: "References SUPABASE_SERVICE_ROLE_KEY"}, got[0].Hits[0])
	assert.Equal(t, model.SeverityFail, agg.Verdict(false).Outcome)
}

func TestCIKongRules(t *testing.T) {
	t.Run("commented sed does not count", func(t *testing.T) {
		ci := strings.Replace(healthyCI, `sed -i "s|\${SUPABASE_SERVICE_KEY}`, `# sed -i "s|\${SUPABASE_SERVICE_KEY}`, 1)
		f := finding(t, with(map[string]string{".github/workflows/ci.yml": ci}), "ci-kong-sed")
		assert.Equal(t, model.SeverityFail, f.Severity)
		assert.Equal(t, "CI deploy missing sed for: SUPABASE_SERVICE_KEY", f.Check)
	})
	t.Run("recreate with extra flags", func(t *testing.T) {
		ci := strings.Replace(healthyCI, "--force-recreate kong", "--force-recreate --no-deps kong", 1)
		f := finding(t, with(map[string]string{".github/workflows/ci.yml": ci}), "ci-kong-recreate")
		assert.Equal(t, model.SeverityPass, f.Severity)
	})
	t.Run("missing recreate", func(t *testing.T) {
		ci := strings.Replace(healthyCI, "--force-recreate kong", "kong", 1)
		f := finding(t, with(map[string]string{".github/workflows/ci.yml": ci}), "ci-kong-recreate")
		assert.Equal(t, model.SeverityFail, f.Severity)
	})
	t.Run("unparsable workflow falls back to text", func(t *testing.T) {
		ci := "jobs: [\nsed s|${SUPABASE_ANON_KEY}|x| ; sed s|${SUPABASE_SERVICE_KEY}|y|\n"
		f := finding(t, with(map[string]string{".github/workflows/ci.yml": ci}), "ci-kong-sed")
		assert.Equal(t, model.SeverityPass, f.Severity)
	})
}

func TestKongKeyAuth(t *testing.T) {
	kong := strings.Replace(healthyKong, "      - name: key-auth\n        config:", "      - name: acl\n        config:", 1)
	f := finding(t, with(map[string]string{"deploy/supabase/kong.yml": kong}), "kong-key-auth")
	assert.Equal(t, model.SeverityFail, f.Severity)
	assert.Contains(t, f.Check, "rest-v1 missing key-auth plugin")
	require.Len(t, f.Hits, 1)
	assert.Equal(t, 10, f.Hits[0].Line)

	global := strings.Replace(kong, "services:", "plugins:\n  - name: key-auth\nservices:", 1)
	f = finding(t, with(map[string]string{"deploy/supabase/kong.yml": global}), "kong-key-auth")
	assert.Equal(t, model.SeverityPass, f.Severity)

	f = finding(t, with(map[string]string{"deploy/supabase/kong.yml": "services: [oops"}), "kong-key-auth")
	assert.Equal(t, model.SeverityWarn, f.Severity)

	undeclared := strings.Replace(healthyKong, "- name: storage-v1\n", "- name: storage-v2\n", 1)
	f = finding(t, with(map[string]string{"deploy/supabase/kong.yml": undeclared}), "kong-key-auth")
	assert.Equal(t, model.SeverityWarn, f.Severity)
	assert.Contains(t, f.Check, "not declared")
	assert.Contains(t, f.Check, "storage-v1")
	assert.Empty(t, f.Hits)
}

func TestDockerfileSecretArgs(t *testing.T) {
	f := finding(t, with(map[string]string{
		"Dockerfile": "FROM node:20\narg ENCRYPTION_KEY\nARG ENCRYPTION_KEY_ID\nENV SUPABASE_SERVICE_ROLE_KEY=$KEY\n",
	}), "dockerfile-secret-args")
	assert.Equal(t, model.SeverityFail, f.Severity)
	assert.Equal(t, "Dockerfile bakes secret(s) as build ARG/ENV: ENCRYPTION_KEY as ARG, SUPABASE_SERVICE_ROLE_KEY baked via ENV", f.Check)
	require.Len(t, f.Hits, 2)
	assert.Equal(t, 2, f.Hits[0].Line)
	assert.Equal(t, 4, f.Hits[1].Line)
}

func TestPublicEnvNames(t *testing.T) {
	f := finding(t, with(map[string]string{
		"src/lib/env.ts": "const a = process.env.NEXT_PUBLIC_SUPABASE_URL // service_role handled server side\nconst b = process.env.NEXT_PUBLIC_STRIPE_SECRET\n",
	}), "public-env-names")
	assert.Equal(t, model.SeverityFail, f.Severity)
	require.Len(t, f.Hits, 1)
	assert.Equal(t, 2, f.Hits[0].Line)
}

func TestSupabaseURLConsistency(t *testing.T) {
	ci := strings.Replace(healthyCI, "NEXT_PUBLIC_SUPABASE_URL: ${{ secrets.SUPABASE_URL }}", "NEXT_PUBLIC_SUPABASE_URL: ${{ secrets.PUBLIC_URL }}", 1)
	f := finding(t, with(map[string]string{".github/workflows/ci.yml": ci}), "supabase-url-consistency")
	assert.Equal(t, model.SeverityWarn, f.Severity)
	assert.Contains(t, f.Detail, "SUPABASE_URL             -> SUPABASE_URL")
	assert.Contains(t, f.Detail, "NEXT_PUBLIC_SUPABASE_URL -> PUBLIC_URL")
	assert.Len(t, f.Hits, 2)
}

func TestComposeEnvCoverage(t *testing.T) {
	compose := "services:\n  db:\n    environment:\n      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD:?required}\n      LITERAL: $${NOT_A_REF}\n      URL: ${SUPABASE_URL}\n"
	f := finding(t, with(map[string]string{"deploy/docker-compose.yml": compose}), "compose-env-coverage")
	assert.Equal(t, model.SeverityWarn, f.Severity)
	assert.Equal(t, "1 docker-compose var(s) not in .env.example", f.Check)
	assert.Equal(t, []model.Hit{{File: "deploy/docker-compose.yml", Line: 4, Text: "POSTGRES_PASSWORD"}}, f.Hits)

	adjacent := "services:\n  api:\n    environment:\n      URL: ${SUPABASE_URL}${API_PATH}\n      RAW: $$${POSTGRES_PASSWORD}$${NOT_A_REF}\n"
	f = finding(t, with(map[string]string{"deploy/docker-compose.yml": adjacent}), "compose-env-coverage")
	assert.Equal(t, model.SeverityWarn, f.Severity)
	assert.Equal(t, "2 docker-compose var(s) not in .env.example", f.Check)
	assert.Equal(t, []model.Hit{
		{File: "deploy/docker-compose.yml", Line: 4, Text: "API_PATH"},
		{File: "deploy/docker-compose.yml", Line: 5, Text: "POSTGRES_PASSWORD"},
	}, f.Hits)

	f = finding(t, with(map[string]string{"deploy/.env.example": "", ".env.example": "export SUPABASE_URL=x\n"}), "compose-env-coverage")
	assert.Equal(t, model.SeverityPass, f.Severity)
}

func TestRuntimeConfigRules(t *testing.T) {
	files := with(map[string]string{"src/app/layout.tsx": "export default function Root() {}\n", "src/lib/supabase/client.ts": "const url = process.env.NEXT_PUBLIC_SUPABASE_URL\n"})
	got := byRule(runAll(t, files).Findings())
	assert.Equal(t, model.SeverityFail, got["runtime-config-injection"][0].Severity)
	assert.Equal(t, "layout.tsx missing window.__LEBENSORDNER_PUBLIC_CONFIG__ injection", got["runtime-config-injection"][0].Check)
	assert.Equal(t, model.SeverityWarn, got["browser-runtime-config"][0].Severity)

	f := finding(t, with(map[string]string{"src/lib/config/validate-env.ts": "const required = [\n  'SUPABASE_URL',\n  'ENCRYPTION_KEY',\n]\n"}), "encryption-key-early-validation")
	assert.Equal(t, model.SeverityWarn, f.Severity)
	assert.Equal(t, []model.Hit{{File: "src/lib/config/validate-env.ts", Line: 3, Text: "'ENCRYPTION_KEY',"}}, f.Hits)
}

func TestOptionalChaining(t *testing.T) {
	f := finding(t, with(map[string]string{
		"src/lib/profile.ts": strings.Join([]string{
			"const name = user?.profile.name",
			"const safe = user?.profile?.name",
			"const call = user?.profile.load()",
			"// const c = user?.profile.name",
			"const idx = user?.items.list[0]",
			"const d = res?.data.rows",
			"const reader = resp?.body.getReader()",
			"const id = session?.user.getId()",
			"const first = a?.b.items[0]",
			"const tail = a?.b.c?.d",
		}, "\n") + "\n",
		"src/__tests__/profile.test.ts": "const name = user?.profile.name\n",
	}), "optional-chaining")
	assert.Equal(t, model.SeverityWarn, f.Severity)
	assert.True(t, f.Heuristic)
	assert.Equal(t, 10, f.MaxHits)
	lines := make([]int, 0, len(f.Hits))
	for _, h := range f.Hits {
		lines = append(lines, h.Line)
	}
	assert.Equal(t, []int{1, 3, 5, 8, 9}, lines)
}

func TestOptionalChaining_CatalogOverride(t *testing.T) {
	snap, err := snapshot.New(writeRepo(t, map[string]string{"src/a.ts": "const d = res?.data.rows\n"}), snapshot.DefaultLayout())
	require.NoError(t, err)
	cat := DefaultCatalog()
	cat.SafeOptionalChains = nil
	reg := engine.NewRegistry()
	require.NoError(t, Register(reg, cat))
	env := engine.Env{Snapshot: snap, Scanner: scan.New(snap, scan.Options{})}
	got := byRule(reg.Run(context.Background(), env, engine.RunOptions{}).Findings())["optional-chaining"]
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityWarn, got[0].Severity)
}

func TestCodeQualityHeuristics(t *testing.T) {
	got := byRule(runAll(t, with(map[string]string{
		"src/lib/bytes.ts": "if (buf instanceof ArrayBuffer) {}\n",
		"src/lib/log.ts":   "console.log('password reset sent')\nconsole.error('login failed', password)\n",
	})).Findings())
	assert.Equal(t, model.SeverityWarn, got["instanceof-arraybuffer"][0].Severity)
	console := got["console-sensitive"][0]
	assert.Equal(t, model.SeverityWarn, console.Severity)
	require.Len(t, console.Hits, 1)
	assert.Equal(t, 2, console.Hits[0].Line)
}

func TestRedirectRules(t *testing.T) {
	got := byRule(runAll(t, with(map[string]string{
		"src/app/onboarding/Gate.tsx": "'use client'\nuseEffect(() => {\n  if (!profile) router.replace('/onboarding')\n}, [profile])\n<button onClick={() => router.push('/x')} />\n",
		"src/app/other/Nav.tsx":       "'use client'\nrouter.push('/never-flagged-without-effects')\n",
		"src/app/dashboard/page.tsx":  "export default async function Page() {\n  if (!a) redirect('/login')\n  if (!b) redirect('/onboarding')\n}\n",
		"src/app/settings/page.tsx":   "'use client'\nredirect('/a'); redirect('/b')\n",
	})).Findings())

	loop := got["client-redirect-loop"][0]
	assert.Equal(t, model.SeverityWarn, loop.Severity)
	assert.Equal(t, "router.push/replace in useEffect body -- 1 file(s)", loop.Check)
	require.Len(t, loop.Hits, 1)
	assert.Equal(t, 3, loop.Hits[0].Line)

	pages := got["server-page-redirects"][0]
	assert.Equal(t, model.SeverityWarn, pages.Severity)
	assert.Equal(t, []model.Hit{{File: "src/app/dashboard/page.tsx", Text: "2 redirect() calls"}}, pages.Hits)
}

func TestAPIRouteRules(t *testing.T) {
	got := byRule(runAll(t, with(map[string]string{
		"src/app/api/admin/export/route.ts": "export async function POST(req) {\n  return dump()\n}\n",
		"src/app/api/webhooks/x/route.ts":   "export async function POST(req) {}\n",
		"src/app/api/helpers/route.ts":      "const notAHandler = 1\n",
		"src/app/api/vault/route.ts":        "export async function GET() {\n  const user = await getUser()\n  throw new Error('x')\n}\n",
	})).Findings())

	auth := got["api-route-auth"][0]
	assert.Equal(t, model.SeverityWarn, auth.Severity)
	assert.Equal(t, []model.Hit{{File: "src/app/api/admin/export/route.ts"}}, auth.Hits)

	critical := got["critical-endpoint-errors"][0]
	assert.Equal(t, model.SeverityWarn, critical.Severity)
	assert.Equal(t, []model.Hit{{File: "src/app/api/vault/route.ts", Line: 3, Text: "bare throw without try/catch"}}, critical.Hits)
}

func TestDeployTooling(t *testing.T) {
	got := byRule(runAll(t, with(map[string]string{
		"scripts/ops/verify-deploy.sh": "curl /api/health\n",
		".github/workflows/ci.yml":     "# ./scripts/ops/verify-deploy.sh\njobs: {}\n",
	})).Findings())
	assert.Equal(t, "verify-deploy.sh missing probe(s): Kong placeholder check, REST key-auth probe, Prometheus check, Service running check", got["verify-deploy-script"][0].Check)
	assert.Equal(t, model.SeverityWarn, got["ci-smoke-check"][0].Severity)
}

func TestInlineIgnoreSilencesRule(t *testing.T) {
	f := finding(t, with(map[string]string{
		"src/lib/profile.ts": "// predeploy:ignore optional-chaining -- profile is always loaded here\nconst name = user?.profile.name\n",
	}), "optional-chaining")
	assert.Equal(t, model.SeverityPass, f.Severity)
}
