package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pair is an ordered (name, value) entry.
type Pair struct {
	Name  string
	Value string
}

// PairList is an ordered list of pairs. It accepts "a:b,c:d" strings and
// YAML sequences of two-element sequences.
type PairList []Pair

// Dict is a string map. It accepts "a:b,c:d" strings and YAML mappings.
type Dict map[string]string

func parsePair(s string) (Pair, error) {
	name, value, ok := strings.Cut(s, ":")
	if !ok {
		return Pair{}, fmt.Errorf("the given string is not a pair: %q", s)
	}
	return Pair{Name: name, Value: value}, nil
}

// ParsePairList parses "a:b,c:d". Values may contain colons; only the first
// colon separates name from value. An empty string yields an empty list.
func ParsePairList(s string) (PairList, error) {
	if strings.TrimSpace(s) == "" {
		return PairList{}, nil
	}
	parts := strings.Split(s, ",")
	out := make(PairList, 0, len(parts))
	for _, part := range parts {
		p, err := parsePair(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseDict parses "a:b,c:d" into a map.
func ParseDict(s string) (Dict, error) {
	pairs, err := ParsePairList(s)
	if err != nil {
		return nil, err
	}
	out := make(Dict, len(pairs))
	for _, p := range pairs {
		out[p.Name] = p.Value
	}
	return out, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *PairList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := ParsePairList(node.Value)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	case yaml.SequenceNode:
		out := make(PairList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.SequenceNode || len(item.Content) != 2 {
				return fmt.Errorf("line %d: the given list is not a pair", item.Line)
			}
			out = append(out, Pair{Name: item.Content[0].Value, Value: item.Content[1].Value})
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: unsupported pair list syntax", node.Line)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Dict) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseDict(node.Value)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case yaml.MappingNode:
		var raw map[string]any
		if err := node.Decode(&raw); err != nil {
			return err
		}
		out := make(Dict, len(raw))
		for k, v := range raw {
			out[k] = fmt.Sprint(v)
		}
		*d = out
		return nil
	default:
		return fmt.Errorf("line %d: unsupported mapping syntax", node.Line)
	}
}
