package groupchat

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/darkostanimirovic/groupchat/internal/logging"
)

// Mapper renders a configuration with its wire key names.
type Mapper interface {
	Map() map[string]any
}

// Dump headers written before each configuration block.
const (
	HeaderLLMConfig       = "--llm_config--"
	HeaderMemoryLLMConfig = "--llm_config_memgpt--"
)

// RenderConfig renders {config_list: [...], seed: seed} as YAML with
// credentials redacted.
func RenderConfig(seed int, configs ...Mapper) ([]byte, error) {
	list := make([]map[string]any, 0, len(configs))
	for _, c := range configs {
		list = append(list, c.Map())
	}

	doc := logging.Redact(map[string]any{
		"config_list": list,
		"seed":        seed,
	})

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

// DumpConfig writes header followed by the rendered configuration.
func DumpConfig(w io.Writer, header string, seed int, configs ...Mapper) error {
	out, err := RenderConfig(seed, configs...)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s\n%s", header, out); err != nil {
		return fmt.Errorf("write config dump: %w", err)
	}
	return nil
}
