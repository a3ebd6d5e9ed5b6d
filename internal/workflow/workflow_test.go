package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCI = `name: ci
on: [push]
env:
  SUPABASE_URL: ${{ secrets.SUPABASE_URL }}
jobs:
  build:
    runs-on: ubuntu-latest
    env:
      NEXT_PUBLIC_SUPABASE_URL: ${{ secrets.SUPABASE_URL }}
    steps:
      - uses: actions/checkout@v4
      - name: Install
        run: npm ci
  deploy:
    runs-on: ubuntu-latest
    steps:
      - name: Deploy
        env:
          HOST: ${{ secrets.DEPLOY_HOST }}
        run: |
          # sed -i "s|old|new|" ignored.yml
          ssh -i key.pem deploy@"$HOST" <<'EOF'
            cd /opt/app
            sed -i "s|\${SUPABASE_ANON_KEY}|${{ secrets.ANON }}|g" deploy/supabase/kong.yml
          EOF
          ssh deploy@host "docker compose up -d --force-recreate kong && ./scripts/ops/verify-deploy.sh"
`

func TestParse_StepsAndAssignments(t *testing.T) {
	doc, err := Parse(sampleCI)
	require.NoError(t, err)

	steps := doc.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "build", steps[0].Job)
	assert.Equal(t, "npm ci", steps[0].Run)
	assert.Equal(t, 13, steps[0].Line)
	assert.Equal(t, "deploy", steps[1].Job)
	assert.Equal(t, "Deploy", steps[1].Name)
	assert.Equal(t, 21, steps[1].Line)

	url := doc.Assignments("SUPABASE_URL")
	require.Len(t, url, 1)
	name, ok := SecretName(url[0].Value)
	require.True(t, ok)
	assert.Equal(t, "SUPABASE_URL", name)
	assert.Len(t, doc.Assignments("NEXT_PUBLIC_SUPABASE_URL"), 1)
	assert.Empty(t, doc.Assignments("MISSING"))
}

func TestCommands_FollowHeredocsAndSSH(t *testing.T) {
	doc, err := Parse(sampleCI)
	require.NoError(t, err)

	var sed, recreate *Command
	cmds := doc.Commands()
	for i := range cmds {
		switch cmds[i].Name() {
		case "sed":
			sed = &cmds[i]
		case "docker":
			recreate = &cmds[i]
		}
	}
	require.NotNil(t, sed, "sed inside the ssh heredoc")
	assert.Contains(t, sed.String(), "SUPABASE_ANON_KEY")
	assert.NotContains(t, sed.String(), "ignored.yml", "commented command must not be reported")
	assert.Equal(t, 24, sed.Line)

	require.NotNil(t, recreate, "docker inside the ssh command string")
	assert.Equal(t, []string{"docker", "compose", "up", "-d", "--force-recreate", "kong"}, recreate.Args)
}

func TestScriptCommands_ShellDashC(t *testing.T) {
	cmds := ScriptCommands(`docker exec app sh -c 'sed -i s/a/b/ file'`, 1)
	var names []string
	for _, c := range cmds {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"docker", "sed"}, names)
}

func TestScriptCommands_UnparsableFallsBackToLines(t *testing.T) {
	cmds := ScriptCommands("echo 'unterminated\n# comment\nsed -i s/x/y/ f", 10)
	require.NotEmpty(t, cmds)
	last := cmds[len(cmds)-1]
	assert.False(t, last.Parsed)
	assert.Equal(t, "sed", last.Name())
	assert.Equal(t, 12, last.Line)
}

func TestParse_EmptyAndInvalid(t *testing.T) {
	doc, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, doc.Commands())

	_, err = Parse("jobs: [unclosed")
	require.Error(t, err)

	_, err = Parse("- just\n- a list\n")
	require.Error(t, err)
}

func TestText_DropsCommentLines(t *testing.T) {
	doc, err := Parse("# run verify-deploy.sh later\njobs: {}\n")
	require.NoError(t, err)
	assert.NotContains(t, doc.Text(), "verify-deploy.sh")
	assert.Contains(t, doc.Text(), "jobs")
}

func TestSecretName(t *testing.T) {
	_, ok := SecretName("https://example.supabase.co")
	assert.False(t, ok)
	name, ok := SecretName("${{secrets.NEXT_PUBLIC_SUPABASE_URL}}")
	require.True(t, ok)
	assert.Equal(t, "NEXT_PUBLIC_SUPABASE_URL", name)
}
