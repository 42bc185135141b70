package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ApplyFile reads a flat YAML mapping of environment variable names to
// values and exports every key that is not already present in the process
// environment. Real environment variables always win over the file.
//
//	APP_ENV: dev
//	APP_PORT: 8080
//	ACCESS_TOKEN_TTL_MIN: 15
func ApplyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(b, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for k, v := range values {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		s, err := scalar(v)
		if err != nil {
			return fmt.Errorf("config file key %s: %w", k, err)
		}
		if err := os.Setenv(k, s); err != nil {
			return err
		}
	}
	return nil
}

func scalar(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
