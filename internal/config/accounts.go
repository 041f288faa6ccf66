package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadAccountsDir loads account definitions from YAML files in a directory.
// Files must have a .yaml or .yml extension and conform to the AccountConfig
// schema. A missing directory is not an error.
func LoadAccountsDir(dir string) ([]AccountConfig, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read accounts dir: %w", err)
	}

	var accounts []AccountConfig
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read account file %s: %w", path, err)
		}

		data = []byte(ExpandEnvVars(string(data)))

		var acct AccountConfig
		if err := yaml.Unmarshal(data, &acct); err != nil {
			return nil, fmt.Errorf("parse account file %s: %w", path, err)
		}

		if acct.ID == "" {
			acct.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}

		accounts = append(accounts, acct)
	}

	return accounts, nil
}

// MergeAccounts combines inline accounts with directory-loaded ones.
// Directory entries win on id collision so a drop-in file can override the
// main config without editing it.
func MergeAccounts(inline, extra []AccountConfig) []AccountConfig {
	if len(extra) == 0 {
		return inline
	}
	byID := make(map[string]int, len(inline))
	merged := make([]AccountConfig, len(inline))
	copy(merged, inline)
	for i, acct := range merged {
		byID[acct.ID] = i
	}
	for _, acct := range extra {
		if i, ok := byID[acct.ID]; ok {
			merged[i] = acct
			continue
		}
		byID[acct.ID] = len(merged)
		merged = append(merged, acct)
	}
	return merged
}
