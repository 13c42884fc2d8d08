package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

// LoadDefinition reads a workflow definition from a YAML file. References
// like ${env.VAR} are replaced from the environment before parsing, and
// the resulting definition is validated.
func LoadDefinition(path string) (*workflow.Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, rostrumErrors.Wrap(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			fmt.Sprintf("failed to read workflow file %s", path), err)
	}
	def, err := ParseDefinition(content)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// ParseDefinition parses YAML bytes into a validated workflow definition.
func ParseDefinition(content []byte) (*workflow.Definition, error) {
	content = []byte(interpolateEnv(string(content)))

	var spec DefinitionSpec
	if err := yaml.Unmarshal(content, &spec); err != nil {
		return nil, rostrumErrors.Wrap(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"failed to parse workflow definition", err)
	}

	def, err := spec.Definition()
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// ListDefinitions returns the paths of workflow YAML files directly under
// dir, in filename order. A missing directory is treated as empty.
func ListDefinitions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths, nil
}

// interpolateEnv replaces ${env.VAR} and ${VAR} with environment values.
// Unset variables and ${input.*}/${output.*} placeholders are left as-is.
func interpolateEnv(content string) string {
	envPattern := regexp.MustCompile(`\$\{env\.([^}]+)\}`)
	content = envPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	varPattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	content = varPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := varPattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(varName, "input.") || strings.HasPrefix(varName, "output.") {
			return match
		}
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return content
}
