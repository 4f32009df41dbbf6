package compiler

import (
	"fmt"
	"regexp"
	"strings"
)

// Document is the declarative workflow description as authored in YAML.
// Node bodies are decoded in a second pass so unknown fields surface as
// errors against the node that carries them.
type Document struct {
	Name            string                    `yaml:"name"`
	StateDefs       []map[string]string       `yaml:"state_defs"`
	HistoryKeys     []string                  `yaml:"history_keys"`
	Nodes           map[string]map[string]any `yaml:"nodes"`
	EntryPoint      string                    `yaml:"entry_point"`
	ExitCommands    []string                  `yaml:"exit_commands"`
	InterveneBefore []string                  `yaml:"intervene_before"`
	Checkpointer    string                    `yaml:"checkpointer"`
	LLM             string                    `yaml:"llm"`
	VLM             string                    `yaml:"vlm"`
}

// NodeSpec is the decoded body of one node entry.
type NodeSpec struct {
	Type       string   `mapstructure:"type"`
	Source     []any    `mapstructure:"source"`
	Sink       any      `mapstructure:"sink"`
	Next       any      `mapstructure:"next"`
	Template   string   `mapstructure:"template"`
	SinkFormat string   `mapstructure:"sink_format"`
	ImageKeys  []string `mapstructure:"image_keys"`
	Transform  string   `mapstructure:"transform"`
	Function   string   `mapstructure:"function"`
	Process    string   `mapstructure:"process"`
	Timeout    string   `mapstructure:"timeout"`
	MaxRetries int      `mapstructure:"max_retries"`
}

// TransitionSpec is the decoded form of a conditional `next` mapping.
type TransitionSpec struct {
	Condition string `mapstructure:"condition"`
	Then      string `mapstructure:"then"`
	Else      string `mapstructure:"else"`
}

var varToken = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// bindingName strips an optional ${...} wrapper from a binding reference.
func bindingName(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if m := varToken.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		return m[1]
	}
	return trimmed
}

// interpolate substitutes every ${var} token from vars. An unresolved
// token fails compilation; templates never reach run time with holes.
func interpolate(s string, vars map[string]string) (string, error) {
	var missing string
	out := varToken.ReplaceAllStringFunc(s, func(tok string) string {
		name := varToken.FindStringSubmatch(tok)[1]
		val, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return tok
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("unresolved variable %q", missing)
	}
	return out, nil
}
