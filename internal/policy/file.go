package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a policy seed file. The format follows the extension:
// .toml, .yaml/.yml or .json. Fields absent from the file keep their default
// values.
func LoadFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	p := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &p); err != nil {
			return Policy{}, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return Policy{}, fmt.Errorf("unsupported policy file extension %q", ext)
	}

	p.Normalize()
	return p, nil
}
