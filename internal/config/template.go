package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var templates = map[string]Network{
	"mainnet": {Chain: "mainnet", RPC: RPC{URL: "http://127.0.0.1:8332"}},
	"testnet": {Chain: "testnet", RPC: RPC{URL: "http://127.0.0.1:18332"}},
	"regtest": {Chain: "regtest", RPC: RPC{URL: "http://127.0.0.1:18443"}},
	"signet":  {Chain: "signet", RPC: RPC{URL: "http://127.0.0.1:38332"}},
}

// Template resolves a built-in template name or a path to a .yml file.
// A file template is named after its base name.
func Template(template string) (string, Network, error) {
	if cfg, ok := templates[template]; ok {
		cfg.Sync = cfg.Sync.withDefaults()
		return template, cfg, nil
	}

	ext := filepath.Ext(template)
	if ext != ".yml" && ext != ".yaml" {
		return "", Network{}, fmt.Errorf("unknown network template %q", template)
	}
	name := strings.TrimSuffix(filepath.Base(template), ext)
	if !ValidName(name) {
		return "", Network{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	data, err := os.ReadFile(template)
	if err != nil {
		return "", Network{}, fmt.Errorf("read template: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return "", Network{}, fmt.Errorf("template %s: %w", template, err)
	}
	return name, cfg, nil
}

// AddNetwork writes the configuration of template under root unless the
// network already exists. It returns the network name and whether a file was written.
func AddNetwork(root, template string) (string, bool, error) {
	name, cfg, err := Template(template)
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
		return "", false, fmt.Errorf("create network directory: %w", err)
	}

	data, err := encodeAnnotated(cfg)
	if err != nil {
		return "", false, fmt.Errorf("encode network %s config: %w", name, err)
	}
	f, err := os.OpenFile(Path(root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return name, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("create network %s config: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", false, fmt.Errorf("write network %s config: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", false, fmt.Errorf("write network %s config: %w", name, err)
	}
	return name, true, nil
}

var fieldComments = map[string]map[string]string{
	"sync": {
		"rps": "node requests per second, -1 disables the limit",
	},
}

// encodeAnnotated marshals cfg with comments on the fields whose values need explaining.
func encodeAnnotated(cfg Network) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, err
	}
	for section, fields := range fieldComments {
		sectionNode := mappingValue(&doc, section)
		if sectionNode == nil {
			continue
		}
		for i := 0; i+1 < len(sectionNode.Content); i += 2 {
			if comment, ok := fields[sectionNode.Content[i].Value]; ok {
				sectionNode.Content[i].HeadComment = comment
			}
		}
	}
	return yaml.Marshal(&doc)
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
