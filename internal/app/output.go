package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// WriteResult renders v as indented JSON or as YAML. YAML output goes
// through the JSON form so field names match the API.
func WriteResult(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	switch format {
	case "", "json":
		_, err = w.Write(append(data, '\n'))
		return err
	case "yaml":
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// ReadFeedDir reads every *.json file in dir. The feed name is the file
// name without its extension.
func ReadFeedDir(dir string) (map[string][]byte, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no json files in %s", dir)
	}
	sort.Strings(matches)

	feeds := make(map[string][]byte, len(matches))
	for _, p := range matches {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		feeds[strings.TrimSuffix(filepath.Base(p), ".json")] = data
	}
	return feeds, nil
}
