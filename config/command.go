package config

import (
	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"

	"github.com/datapipe-pro/datapipe/internal/errors"
)

// Command is the argv of an external command task. In the pipeline file it is either a list of
// arguments or a single string split the way a shell would split it.
type Command []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (cmd *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		args, err := shellwords.NewParser().Parse(node.Value)
		if err != nil {
			return errors.Errorf("line %d: failed to parse command %q: %w", node.Line, node.Value, err)
		}

		*cmd = args
	case yaml.SequenceNode:
		var args []string
		if err := node.Decode(&args); err != nil {
			return err
		}

		*cmd = args
	default:
		return errors.Errorf("line %d: command must be a string or a list of strings", node.Line)
	}

	return nil
}
