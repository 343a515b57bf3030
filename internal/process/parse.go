package process

import (
	"bytes"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Resource suffixes recognised as process definitions.
var definitionSuffixes = []string{".process.yaml", ".process.yml", ".process.cue"}

// IsDefinition reports whether a deployment resource name is a process
// definition. Other resources are stored with the deployment but not parsed.
func IsDefinition(name string) bool {
	for _, suffix := range definitionSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Parse decodes and validates a definition resource.
func Parse(name string, content []byte) (*Definition, error) {
	var def Definition

	switch {
	case strings.HasSuffix(name, ".cue"):
		ctx := cuecontext.New()
		v := ctx.CompileBytes(content, cue.Filename(name))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if err := v.Decode(&def); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("%s: not a process definition resource", name)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &def, nil
}
