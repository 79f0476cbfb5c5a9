package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/protdict/internal/log"
)

// SaveValidators replaces the validators section of the config file.
// Comments and formatting in other sections are preserved by editing the yaml.Node tree.
func SaveValidators(configPath string, validators map[string][]string) error {
	if err := ValidateValidators(validators); err != nil {
		return err
	}
	return saveSection(configPath, "validators", buildValidatorsNode(validators))
}

// SaveOutput replaces the output section of the config file.
func SaveOutput(configPath string, out OutputConfig) error {
	if err := ValidateOutput(out); err != nil {
		return err
	}
	return saveSection(configPath, "output", buildOutputNode(out))
}

// AddValidatorRule appends a rule to a tag and saves the validators section.
func AddValidatorRule(configPath, tag, rule string, current map[string][]string) error {
	next := make(map[string][]string, len(current)+1)
	for k, v := range current {
		next[k] = append([]string(nil), v...)
	}
	next[tag] = append(next[tag], rule)
	return SaveValidators(configPath, next)
}

// RemoveValidatorTag deletes a tag from the validators section.
func RemoveValidatorTag(configPath, tag string, current map[string][]string) error {
	if _, ok := current[tag]; !ok {
		return fmt.Errorf("validators.%s: not configured", tag)
	}
	next := make(map[string][]string, len(current))
	for k, v := range current {
		if k != tag {
			next[k] = v
		}
	}
	return SaveValidators(configPath, next)
}

func saveSection(configPath, key string, section *yaml.Node) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: key},
						section,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind != yaml.MappingNode {
			return fmt.Errorf("parsing config: top level is not a mapping")
		}
		found := false
		for i := 0; i < len(root.Content)-1; i += 2 {
			if root.Content[i].Value == key {
				root.Content[i+1] = section
				found = true
				break
			}
		}
		if !found {
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key},
				section,
			)
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	if err := writeAtomic(configPath, buf.Bytes()); err != nil {
		return err
	}
	log.Debug(log.CatConfig, "Saved config section", "path", configPath, "section", key)
	return nil
}

// writeAtomic writes to a temp file in the same directory, then renames it over the target.
func writeAtomic(configPath string, content []byte) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".protdict.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(content); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, configPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func buildValidatorsNode(validators map[string][]string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}

	tags := make([]string, 0, len(validators))
	for tag := range validators {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		rules := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, rule := range validators[tag] {
			rules.Content = append(rules.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: rule, Style: yaml.DoubleQuotedStyle})
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: tag},
			rules,
		)
	}
	return node
}

func buildOutputNode(out OutputConfig) *yaml.Node {
	format := out.Format
	if format == "" {
		format = FormatJSON
	}
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: "format"},
			{Kind: yaml.ScalarNode, Value: format},
			{Kind: yaml.ScalarNode, Value: "indent"},
			{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(out.Indent)},
			{Kind: yaml.ScalarNode, Value: "color"},
			{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(out.Color)},
		},
	}
}
