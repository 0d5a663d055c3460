package configparsing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/api3dao/commons-go/pkg/schema"
)

func rawConfig() map[string]interface{} {
	return map[string]interface{}{
		"property": "value",
		"secretB":  "${SECRET_B}",
		"secretA":  "${SECRET_A}",
	}
}

func TestInterpolateSecrets(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]interface{}
		secrets Secrets
		want    map[string]interface{}
	}{
		{
			name:    "interpolates secrets",
			config:  rawConfig(),
			secrets: Secrets{"SECRET_A": "secretValueA", "SECRET_B": "secretValueB"},
			want:    map[string]interface{}{"property": "value", "secretA": "secretValueA", "secretB": "secretValueB"},
		},
		{
			name:    "allows blank secrets by default",
			config:  rawConfig(),
			secrets: Secrets{"SECRET_A": "", "SECRET_B": ""},
			want:    map[string]interface{}{"property": "value", "secretA": "", "secretB": ""},
		},
		{
			name:    "backslash escapes interpolation",
			config:  map[string]interface{}{"property": "value", "secretA": `\${SECRET_A}`, "secretB": "${SECRET_B}"},
			secrets: Secrets{"SECRET_A": "secretValueA", "SECRET_B": "secretValueB"},
			want:    map[string]interface{}{"property": "value", "secretA": "${SECRET_A}", "secretB": "secretValueB"},
		},
		{
			name:    "allows extraneous secrets",
			config:  rawConfig(),
			secrets: Secrets{"SECRET_A": "a", "SECRET_B": "b", "SECRET_C": "c"},
			want:    map[string]interface{}{"property": "value", "secretA": "a", "secretB": "b"},
		},
		{
			name:    "allows no secrets",
			config:  map[string]interface{}{"value": "no secrets"},
			secrets: Secrets{},
			want:    map[string]interface{}{"value": "no secrets"},
		},
		{
			name:    "encodes special characters",
			config:  map[string]interface{}{"url": "https://example.com/${KEY}?a=1&b=2", "nested": []interface{}{"${MULTILINE}"}},
			secrets: Secrets{"KEY": `quo"te`, "MULTILINE": "line1\nline2"},
			want: map[string]interface{}{
				"url":    `https://example.com/quo"te?a=1&b=2`,
				"nested": []interface{}{"line1\nline2"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InterpolateSecrets(tt.config, tt.secrets, InterpolationOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpolateSecrets_IntoStruct(t *testing.T) {
	type config struct {
		APIKey string `json:"apiKey"`
		Port   int    `json:"port"`
	}

	got, err := InterpolateSecrets(config{APIKey: "${API_KEY}", Port: 8080}, Secrets{"API_KEY": "k"}, InterpolationOptions{})
	require.NoError(t, err)
	assert.Equal(t, config{APIKey: "k", Port: 8080}, got)
}

func TestInterpolateSecrets_MissingSecret(t *testing.T) {
	_, err := InterpolateSecrets(rawConfig(), Secrets{"SECRET_A": "secretValueA"}, InterpolationOptions{})
	assert.EqualError(t, err, "SECRET_B is not defined")
}

func TestInterpolateSecrets_BlankSecretDisallowed(t *testing.T) {
	_, err := InterpolateSecrets(rawConfig(), Secrets{"SECRET_A": "", "SECRET_B": ""}, InterpolationOptions{DisallowBlankSecretValue: true})
	var validationErr *schema.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Issues, 2)
	assert.Equal(t, "Secret cannot be blank", validationErr.Issues[0].Message)
}

func TestInterpolateSecrets_InvalidSecretName(t *testing.T) {
	for _, name := range []string{"0_SECRET_STARTING_WITH_NUMBER", "CANNOT-CONTAIN-HYPHEN", "lowercase"} {
		t.Run(name, func(t *testing.T) {
			_, err := InterpolateSecrets(rawConfig(), Secrets{"SECRET_A": "a", "SECRET_B": "b", name: "invalid"}, InterpolationOptions{})
			var validationErr *schema.ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Len(t, validationErr.Issues, 1)
			assert.Equal(t, []string{name}, validationErr.Issues[0].Path)
			assert.Equal(t, `Secret name is not a valid. Secret name must match /^[A-Z][\dA-Z_]*$/`, validationErr.Issues[0].Message)
		})
	}

	_, err := InterpolateSecrets(rawConfig(), Secrets{"SECRET_A": "a", "SECRET_B": "b", "lower": "ok"}, InterpolationOptions{SkipSecretNameValidation: true})
	assert.NoError(t, err)
}

func TestLoadSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nAPI_KEY=abc\nQUOTED=\"with space\"\n"), 0o600))

	secrets, err := LoadSecrets(path)
	require.NoError(t, err)
	assert.Equal(t, Secrets{"API_KEY": "abc", "QUOTED": "with space"}, secrets)

	_, err = LoadSecrets(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "config.json")
	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"chains": [{"id": "1"}], "key": "${KEY}"}`), 0o600))
	require.NoError(t, os.WriteFile(yamlPath, []byte("chains:\n  - id: \"1\"\nkey: ${KEY}\n"), 0o600))

	for _, path := range []string{jsonPath, yamlPath} {
		config, err := LoadConfig(path)
		require.NoError(t, err, path)

		got, err := InterpolateSecrets(config, Secrets{"KEY": "secret"}, InterpolationOptions{})
		require.NoError(t, err, path)
		assert.Equal(t, "secret", got["key"], path)
		assert.Equal(t, []interface{}{map[string]interface{}{"id": "1"}}, got["chains"], path)
	}
}
