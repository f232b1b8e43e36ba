// Package prompt renders the text sent to the model for each stage.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseTag = "{{/if}}"
)

// Vars maps template variable names to values.
type Vars map[string]string

// MissingVarsError lists variables a template used but Vars lacked.
type MissingVarsError struct {
	Names []string
}

func (e *MissingVarsError) Error() string {
	return "missing template variables: " + strings.Join(e.Names, ", ")
}

// Render expands {{name}} references and {{#if name}}...{{/if}} blocks.
// A block is kept only when its variable is set and non-empty; blocks may
// nest. Every referenced variable outside a dropped block must be set.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := expandConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	seen := map[string]bool{}
	var missing []string
	out := varRe.ReplaceAllStringFunc(body, func(ref string) string {
		name := ref[2 : len(ref)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return ref
	})
	if len(missing) > 0 {
		return "", &MissingVarsError{Names: missing}
	}
	return out, nil
}

// expandConditionals resolves the innermost block (the last opener before
// the first closer) until none remain.
func expandConditionals(tmpl string, vars Vars) (string, error) {
	for {
		end := strings.Index(tmpl, ifCloseTag)
		if end < 0 {
			break
		}
		opens := ifOpenRe.FindAllStringSubmatchIndex(tmpl[:end], -1)
		if len(opens) == 0 {
			return "", fmt.Errorf("{{/if}} at offset %d has no matching {{#if}}", end)
		}
		open := opens[len(opens)-1]
		name := tmpl[open[2]:open[3]]

		keep := ""
		if vars[name] != "" {
			keep = tmpl[open[1]:end]
		}
		tmpl = tmpl[:open[0]] + keep + tmpl[end+len(ifCloseTag):]
	}

	if tag := ifOpenRe.FindString(tmpl); tag != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", tag)
	}
	return tmpl, nil
}

// Load returns the named template. A file of the same name in overrideDir
// wins over the built-in template; names may not leave overrideDir.
func Load(name, overrideDir string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.Contains(filepath.ToSlash(name), "..") {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	if overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(overrideDir, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template %q: %w", name, err)
		}
	}
	if t, ok := builtinTemplates[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("template %q not found", name)
}

// Names lists the built-in templates.
func Names() []string {
	names := make([]string, 0, len(builtinTemplates))
	for n := range builtinTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Install writes the built-in templates into dir without overwriting
// existing files, so they can be edited and used as overrides.
func Install(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create templates dir: %w", err)
	}
	var written []string
	for _, name := range Names() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(builtinTemplates[name]), 0o644); err != nil {
			return written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}
