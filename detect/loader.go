package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gatekeeper/core"
	"gatekeeper/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SnippetSchemaFile is looked up next to snippet files and used for validation when present
const SnippetSchemaFile = "snippets_schema.json"

var validate = validator.New()

// LoadSnippets loads snippet definitions from a file or from every snippet file in a directory.
// A file may hold a single snippet, a list of snippets, or a mapping with a "snippets" list.
func LoadSnippets(path string, logger *zap.SugaredLogger) ([]*Snippet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snippets path: %w", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read snippets directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isDefinitionFile(entry.Name()) || entry.Name() == SnippetSchemaFile {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	var snippets []*Snippet
	seen := make(map[string]string)
	for _, file := range files {
		loaded, err := loadSnippetFile(file, logger)
		if err != nil {
			return nil, err
		}
		for _, s := range loaded {
			if prev, dup := seen[s.ID]; dup {
				logger.Warnf("Snippet %s in %s overrides definition from %s", s.ID, file, prev)
			}
			seen[s.ID] = file
		}
		snippets = append(snippets, loaded...)
	}

	metrics.UpdateSnippetsLoaded(len(snippets))
	logger.Infof("Loaded %d snippets from %s", len(snippets), path)
	return snippets, nil
}

// loadSnippetFile decodes, optionally validates, and compiles one snippet file
func loadSnippetFile(filename string, logger *zap.SugaredLogger) ([]*Snippet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read snippets file: %w", err)
	}

	var doc any
	if isYAML(filename) {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snippets in %s: %w", filename, err)
	}

	// Validate against JSON schema (optional)
	schemaFilename := filepath.Join(filepath.Dir(filename), SnippetSchemaFile)
	schemaData, err := os.ReadFile(schemaFilename)
	if err != nil {
		logger.Debugf("Schema file not found, skipping validation: %v", err)
	} else if err := validateAgainstSchema(schemaData, doc); err != nil {
		return nil, fmt.Errorf("snippets validation failed for %s: %w", filename, err)
	}

	definitions := snippetDefinitions(doc)
	snippets := make([]*Snippet, 0, len(definitions))
	for i, def := range definitions {
		s, err := NewSnippet(def)
		if err != nil {
			return nil, fmt.Errorf("snippet %d in %s: %w", i, filename, err)
		}
		if s.When.ActiveKind() == NodeEmpty {
			logger.Warnf("Snippet %s has an empty when clause and will drop every event", s.ID)
		}
		snippets = append(snippets, s)
	}
	return snippets, nil
}

// snippetDefinitions flattens the accepted document shapes into snippet maps
func snippetDefinitions(doc any) []map[string]any {
	if m := asStringMap(doc); m != nil {
		if list, ok := m["snippets"].([]any); ok {
			return mapsOf(list)
		}
		return []map[string]any{m}
	}
	if list, ok := doc.([]any); ok {
		return mapsOf(list)
	}
	return nil
}

func mapsOf(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m := asStringMap(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// validateAgainstSchema checks an already decoded document, so YAML files are validated too
func validateAgainstSchema(schemaData []byte, doc any) error {
	schemaLoader := gojsonschema.NewBytesLoader(schemaData)
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate against schema: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// testFile is the on-disk shape of a detection's unit tests
type testFile struct {
	Tests []core.TestSpecification `json:"tests" yaml:"tests"`
}

// LoadTestSpecifications reads unit tests from YAML or JSON. The file may be a bare list
// or a mapping with a "tests" list. Every test must carry an id and a name.
func LoadTestSpecifications(filename string, logger *zap.SugaredLogger) ([]core.TestSpecification, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read tests file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	var specs []core.TestSpecification
	if isYAML(filename) {
		var wrapped testFile
		if err = yaml.Unmarshal(data, &wrapped); err == nil {
			specs = wrapped.Tests
		} else {
			err = yaml.Unmarshal(data, &specs)
		}
	} else if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &specs)
	} else {
		var wrapped testFile
		err = json.Unmarshal(data, &wrapped)
		specs = wrapped.Tests
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal tests: %w", err)
	}

	ids := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if err := validate.Struct(spec); err != nil {
			return nil, fmt.Errorf("test %d in %s is invalid: %w", i, filename, err)
		}
		if ids[spec.ID] {
			return nil, fmt.Errorf("duplicate test id %q in %s", spec.ID, filename)
		}
		ids[spec.ID] = true
	}

	logger.Infof("Loaded %d tests from %s", len(specs), filename)
	return specs, nil
}

func isYAML(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml")
}

func isDefinitionFile(filename string) bool {
	return isYAML(filename) || strings.HasSuffix(filename, ".json")
}

// IndexSnippets maps snippets by id. Later definitions win, matching LoadSnippets' override order.
func IndexSnippets(snippets []*Snippet) map[string]*Snippet {
	index := make(map[string]*Snippet, len(snippets))
	for _, s := range snippets {
		index[s.ID] = s
	}
	return index
}
