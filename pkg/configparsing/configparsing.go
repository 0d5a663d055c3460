// Package configparsing loads configuration and secrets files and
// interpolates secrets into configuration values.
package configparsing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/api3dao/commons-go/pkg/schema"
)

// SecretNamePattern is the pattern secret names must match unless name
// validation is disabled.
var SecretNamePattern = regexp.MustCompile(`^[A-Z][\dA-Z_]*$`)

var (
	// ${NAME} with an optional leading backslash in the JSON text.
	placeholderPattern = regexp.MustCompile(`(\\?)\$\{([^\\}]*)\}`)

	// \${NAME} as it appears in JSON text, where the backslash is itself escaped.
	escapedPlaceholderPattern = regexp.MustCompile(`\\\\(\$\{[^\\}]*\})`)
)

// Secrets maps secret names to values.
type Secrets map[string]string

// InterpolationOptions relaxes or tightens secret validation. The zero value
// allows blank secret values and requires strict secret names.
type InterpolationOptions struct {
	DisallowBlankSecretValue bool
	SkipSecretNameValidation bool
}

// ValidateSecrets checks secret names and values.
func ValidateSecrets(secrets Secrets, opts InterpolationOptions) error {
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	v := &schema.Validator{}
	for _, name := range names {
		if !opts.SkipSecretNameValidation && !SecretNamePattern.MatchString(name) {
			v.Add(fmt.Sprintf("Secret name is not a valid. Secret name must match /%s/", SecretNamePattern.String()), name)
		}
		if opts.DisallowBlankSecretValue && secrets[name] == "" {
			v.Add("Secret cannot be blank", name)
		}
	}
	return v.Err()
}

// InterpolateSecrets replaces every ${NAME} in the string values of config
// with the named secret and decodes the result back into T. A placeholder
// written as \${NAME} is left in place without the backslash. Referencing an
// undefined secret is an error.
func InterpolateSecrets[T any](config T, secrets Secrets, opts InterpolationOptions) (T, error) {
	var zero T
	if err := ValidateSecrets(secrets, opts); err != nil {
		return zero, err
	}

	raw, err := marshal(config)
	if err != nil {
		return zero, fmt.Errorf("failed to encode config: %w", err)
	}

	encoded := make(map[string]string, len(secrets))
	for name, value := range secrets {
		quoted, err := marshal(value)
		if err != nil {
			return zero, fmt.Errorf("failed to encode secret %s: %w", name, err)
		}
		encoded[name] = quoted[1 : len(quoted)-1]
	}

	var missing error
	interpolated := placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		if groups[1] != "" {
			return match
		}
		name := strings.TrimSpace(groups[2])
		value, ok := encoded[name]
		if !ok {
			if missing == nil {
				missing = fmt.Errorf("%s is not defined", name)
			}
			return match
		}
		return value
	})
	if missing != nil {
		return zero, missing
	}
	interpolated = escapedPlaceholderPattern.ReplaceAllString(interpolated, "$1")

	var out T
	if err := json.Unmarshal([]byte(interpolated), &out); err != nil {
		return zero, fmt.Errorf("failed to decode interpolated config: %w", err)
	}
	return out, nil
}

// LoadSecrets reads a dotenv formatted secrets file.
func LoadSecrets(path string) (Secrets, error) {
	secrets, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	return Secrets(secrets), nil
}

// LoadConfig reads a JSON or YAML configuration file into a generic map.
func LoadConfig(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config map[string]interface{}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	return config, nil
}

// marshal encodes v without escaping HTML characters.
func marshal(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
