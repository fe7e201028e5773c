package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StringList accepts either a single scalar string or a YAML sequence of
// strings, so config authors can write `platforms: linux/amd64` instead
// of the more verbose `platforms: [linux/amd64]` for the common single-
// value case. Modeled on the teacher's RetentionPolicy.UnmarshalYAML,
// which accepts either a scalar or a map for the same reason.
type StringList []string

// UnmarshalYAML implements the scalar-or-sequence acceptance.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var one string
		if err := value.Decode(&one); err != nil {
			return fmt.Errorf("expected a string, got %q", value.Value)
		}
		*s = StringList{one}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = StringList(list)
		return nil
	default:
		return fmt.Errorf("expected a string or list of strings, got YAML kind %d", value.Kind)
	}
}
