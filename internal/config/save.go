package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/tabtree/internal/log"
)

// SaveViews replaces the views section of the config file. Comments and
// formatting in other sections survive because the file is edited as a
// yaml.Node tree. A missing file is created.
func SaveViews(configPath string, views []ViewConfig) error {
	if err := ValidateViews(views); err != nil {
		return err
	}

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	viewsNode := buildViewsNode(views)
	if err := setTopLevel(&doc, "views", viewsNode); err != nil {
		return err
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
	log.Info(log.CatConfig, "Saved views", "path", configPath, "count", len(views))
	return nil
}

// AddView appends a view and saves. Names must be unique.
func AddView(configPath string, newView ViewConfig, existingViews []ViewConfig) error {
	if slices.ContainsFunc(existingViews, func(v ViewConfig) bool { return v.Name == newView.Name }) {
		return fmt.Errorf("view %q already exists", newView.Name)
	}
	views := append(slices.Clone(existingViews), newView)
	return SaveViews(configPath, views)
}

// DeleteView removes the named view and saves. The last view cannot be removed.
func DeleteView(configPath string, name string, allViews []ViewConfig) error {
	idx := slices.IndexFunc(allViews, func(v ViewConfig) bool { return v.Name == name })
	if idx < 0 {
		return fmt.Errorf("view %q not found", name)
	}
	if len(allViews) <= 1 {
		return fmt.Errorf("cannot delete the only view")
	}
	return SaveViews(configPath, slices.Delete(slices.Clone(allViews), idx, idx+1))
}

func setTopLevel(doc *yaml.Node, key string, value *yaml.Node) error {
	if doc.Kind == 0 {
		*doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{{
				Kind: yaml.MappingNode,
				Content: []*yaml.Node{
					{Kind: yaml.ScalarNode, Value: key},
					value,
				},
			}},
		}
		return nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("parsing config: top level is not a mapping")
	}
	root := doc.Content[0]
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == key {
			root.Content[i+1] = value
			return nil
		}
	}
	root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
	return nil
}

func buildViewsNode(views []ViewConfig) *yaml.Node {
	node := &yaml.Node{Kind: yaml.SequenceNode, Content: make([]*yaml.Node, 0, len(views))}
	for _, view := range views {
		viewNode := &yaml.Node{Kind: yaml.MappingNode}
		viewNode.Content = append(viewNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "name"},
			&yaml.Node{Kind: yaml.ScalarNode, Value: view.Name},
		)
		if view.Color != "" {
			viewNode.Content = append(viewNode.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: "color"},
				// quoted so '#' is not read as a comment
				&yaml.Node{Kind: yaml.ScalarNode, Value: view.Color, Style: yaml.DoubleQuotedStyle},
			)
		}
		node.Content = append(node.Content, viewNode)
	}
	return node
}

// writeAtomic writes to a temp file in the same directory, then renames.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".tabtree.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
