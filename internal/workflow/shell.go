package workflow

import (
	"path"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// maxNesting bounds how deep command strings handed to ssh, sh -c and eval are followed.
const maxNesting = 4

// Command is one simple command with its words flattened to text.
type Command struct {
	Args []string
	Line int
	// Parsed is false when the script could not be parsed and Args come from a plain split.
	Parsed bool
}

// Name returns the base name of the executable.
func (c Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return path.Base(c.Args[0])
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

var ghaExpr = regexp.MustCompile(`\$\{\{[^}]*\}\}`)

// ScriptCommands parses a shell script and returns its commands, following heredoc
// bodies and command strings passed to ssh, shells and eval. baseLine is the line the
// script starts on. Comments are ignored. An unparsable script degrades to a line split.
func ScriptCommands(script string, baseLine int) []Command {
	if baseLine <= 0 {
		baseLine = 1
	}
	return scriptCommands(script, baseLine, 0)
}

func scriptCommands(script string, baseLine, depth int) []Command {
	script = ghaExpr.ReplaceAllString(script, "GHA_EXPR")
	parser := syntax.NewParser(syntax.KeepComments(false))
	f, err := parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return splitCommands(script, baseLine)
	}
	var out []Command
	syntax.Walk(f, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.Stmt:
			for _, redir := range n.Redirs {
				if redir.Hdoc == nil || depth >= maxNesting {
					continue
				}
				line := baseLine + int(redir.Hdoc.Pos().Line()) - 1
				out = append(out, scriptCommands(flatten(redir.Hdoc), line, depth+1)...)
			}
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				return true
			}
			args := make([]string, 0, len(n.Args))
			for _, w := range n.Args {
				args = append(args, flatten(w))
			}
			line := baseLine + int(n.Pos().Line()) - 1
			out = append(out, Command{Args: args, Line: line, Parsed: true})
			if depth < maxNesting {
				for _, nested := range nestedScripts(args) {
					for _, c := range scriptCommands(nested, line, depth+1) {
						c.Line = line
						out = append(out, c)
					}
				}
			}
		}
		return true
	})
	return out
}

// nestedScripts returns command strings a wrapper command hands to another shell.
func nestedScripts(args []string) []string {
	var out []string
	switch path.Base(args[0]) {
	case "ssh":
		if remote := sshRemoteCommand(args[1:]); remote != "" {
			out = append(out, remote)
		}
	case "eval":
		if len(args) > 1 {
			out = append(out, strings.Join(args[1:], " "))
		}
	case "sudo", "env", "nohup", "time":
		if len(args) > 1 {
			out = append(out, strings.Join(args[1:], " "))
		}
	}
	for i := 1; i+1 < len(args); i++ {
		if args[i] == "-c" && isShell(args[i-1]) {
			out = append(out, args[i+1])
		}
	}
	return out
}

var sshValueFlags = map[string]bool{
	"-b": true, "-c": true, "-D": true, "-E": true, "-F": true, "-i": true, "-J": true,
	"-L": true, "-l": true, "-m": true, "-O": true, "-o": true, "-p": true, "-R": true,
	"-S": true, "-W": true, "-w": true,
}

func sshRemoteCommand(args []string) string {
	i := 0
	for i < len(args) && strings.HasPrefix(args[i], "-") {
		if sshValueFlags[args[i]] {
			i++
		}
		i++
	}
	// args[i] is the destination host.
	i++
	if i >= len(args) {
		return ""
	}
	return strings.Join(args[i:], " ")
}

func isShell(name string) bool {
	switch path.Base(name) {
	case "sh", "bash", "zsh", "dash", "ash":
		return true
	}
	return false
}

// flatten renders a word as the text the shell would see before expansion.
func flatten(w *syntax.Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		flattenPart(&b, part)
	}
	return b.String()
}

func flattenPart(b *strings.Builder, part syntax.WordPart) {
	switch p := part.(type) {
	case *syntax.Lit:
		b.WriteString(p.Value)
	case *syntax.SglQuoted:
		b.WriteString(p.Value)
	case *syntax.DblQuoted:
		for _, inner := range p.Parts {
			flattenPart(b, inner)
		}
	case *syntax.ParamExp:
		if p.Param == nil {
			return
		}
		if p.Short {
			b.WriteString("$" + p.Param.Value)
			return
		}
		b.WriteString("${" + p.Param.Value + "}")
	case *syntax.CmdSubst:
		b.WriteString("$(...)")
	case *syntax.ArithmExp:
		b.WriteString("$((...))")
	}
}

// splitCommands is the fallback for scripts the parser rejects: one command per
// non-comment line, split on whitespace.
func splitCommands(script string, baseLine int) []Command {
	var out []Command
	for i, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, Command{Args: strings.Fields(trimmed), Line: baseLine + i})
	}
	return out
}
