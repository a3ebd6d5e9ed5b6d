// Package workflow reads a CI workflow definition: the shell commands its steps run
// and the environment values it assigns.
package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step is one job step that runs a shell script.
type Step struct {
	Job  string
	Name string
	Run  string
	// Line is the CI file line of the first script line.
	Line int
}

// Assignment is a scalar mapping entry anywhere in the document, such as an env var.
type Assignment struct {
	Key   string
	Value string
	Line  int
}

type Document struct {
	raw         string
	steps       []Step
	assignments []Assignment
}

// Parse decodes a workflow. An empty input yields an empty document.
func Parse(content string) (*Document, error) {
	doc := &Document{raw: content}
	if strings.TrimSpace(content) == "" {
		return doc, nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if len(root.Content) == 0 {
		return doc, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse workflow: top level is not a mapping")
	}
	collectAssignments(top, &doc.assignments)
	if jobs := mappingValue(top, "jobs"); jobs != nil && jobs.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(jobs.Content); i += 2 {
			doc.steps = append(doc.steps, jobSteps(jobs.Content[i].Value, jobs.Content[i+1])...)
		}
	}
	return doc, nil
}

func jobSteps(job string, node *yaml.Node) []Step {
	steps := mappingValue(node, "steps")
	if steps == nil || steps.Kind != yaml.SequenceNode {
		return nil
	}
	var out []Step
	for _, item := range steps.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		run := mappingValue(item, "run")
		if run == nil || run.Kind != yaml.ScalarNode || strings.TrimSpace(run.Value) == "" {
			continue
		}
		line := run.Line
		if run.Style == yaml.LiteralStyle || run.Style == yaml.FoldedStyle {
			line++
		}
		name := ""
		if n := mappingValue(item, "name"); n != nil {
			name = n.Value
		}
		out = append(out, Step{Job: job, Name: name, Run: run.Value, Line: line})
	}
	return out
}

func collectAssignments(node *yaml.Node, out *[]Assignment) {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if val.Kind == yaml.ScalarNode {
				*out = append(*out, Assignment{Key: key.Value, Value: val.Value, Line: key.Line})
				continue
			}
			collectAssignments(val, out)
		}
	case yaml.SequenceNode, yaml.DocumentNode:
		for _, child := range node.Content {
			collectAssignments(child, out)
		}
	}
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func (d *Document) Steps() []Step {
	return append([]Step(nil), d.steps...)
}

// Assignments returns every scalar entry whose key is exactly key, in document order.
func (d *Document) Assignments(key string) []Assignment {
	var out []Assignment
	for _, a := range d.assignments {
		if a.Key == key {
			out = append(out, a)
		}
	}
	return out
}

// Commands returns the commands of every step script in document order.
func (d *Document) Commands() []Command {
	var out []Command
	for _, step := range d.steps {
		out = append(out, ScriptCommands(step.Run, step.Line)...)
	}
	return out
}

// Text returns the raw document without full-line comments.
func (d *Document) Text() string {
	lines := strings.Split(d.raw, "\n")
	kept := lines[:0:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

var secretRef = regexp.MustCompile(`^\$\{\{\s*secrets\.([A-Za-z0-9_]+)\s*\}\}$`)

// SecretName returns the secret referenced by a value of the form ${{ secrets.NAME }}.
func SecretName(value string) (string, bool) {
	m := secretRef.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return "", false
	}
	return m[1], true
}
