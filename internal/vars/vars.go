package vars

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadJSONFiles merges one or more JSON object files into a flat string map.
// Later files win; non-string values are coerced to strings.
func LoadJSONFiles(paths []string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}

		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		for k, v := range m {
			switch x := v.(type) {
			case string:
				out[k] = x
			default:
				out[k] = fmt.Sprint(x) // coerce numbers/bools to string
			}
		}
	}
	return out, nil
}

// LoadDotenvFiles reads KEY=VALUE dotenv files into the given map (later
// files win). The process environment is not touched.
func LoadDotenvFiles(into map[string]string, paths []string) (map[string]string, error) {
	if into == nil {
		into = map[string]string{}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		m, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range m {
			into[k] = v
		}
	}
	return into, nil
}
