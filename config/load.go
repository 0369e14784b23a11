package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/deeppavlov/dialgo-flow-framework/script"
)

// LoadOptions controls the optional validation steps Load performs before
// decoding a document into a Script.
type LoadOptions struct {
	// Schema, if non-nil, is a compiled JSON Schema the document's JSON
	// projection must satisfy. Nil skips structural schema validation,
	// matching the teacher's SchemaValidationEnabled escape hatch for
	// environments without a published schema.
	Schema *gojsonschema.Schema

	// AcceptedVersions, if non-empty, constrains which script "version"
	// values Load accepts, as a semver constraint string (e.g. "^1.0.0").
	// A document with no version field always passes. Empty defaults to
	// "same major version as EngineVersion".
	AcceptedVersions string
}

// Load decodes a YAML (or JSON, which is valid YAML) Script document,
// running schema validation and version compatibility checks before
// constructing the Script, so malformed or incompatible documents fail at
// load time rather than mid-turn.
func Load(data []byte, opts LoadOptions) (*script.Script, error) {
	if opts.Schema != nil {
		if err := validateSchema(data, opts.Schema); err != nil {
			return nil, fmt.Errorf("config: Load: %w", err)
		}
	}

	var doc yamlScript
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: Load: decoding script document: %w", err)
	}

	if doc.Version != "" {
		if err := checkVersion(doc.Version, opts.AcceptedVersions); err != nil {
			return nil, fmt.Errorf("config: Load: %w", err)
		}
	}

	flows := make(map[string]*script.Flow, len(doc.Flows))
	for name, flow := range doc.Flows {
		if flow == nil {
			continue
		}
		nodes := make(map[string]*script.Node, len(flow.Nodes))
		for nodeName, node := range flow.Nodes {
			if node == nil {
				continue
			}
			n := node.toScript()
			nodes[nodeName] = &n
		}
		flows[name] = &script.Flow{
			LocalNode: flow.LocalNode.toScript(),
			Nodes:     nodes,
		}
	}

	return script.New(doc.GlobalNode.toScript(), flows)
}

// validateSchema converts the YAML document to its JSON projection (YAML is
// a JSON superset; documents with non-string map keys fail at the
// json.Marshal step below) and validates it against schema, mirroring
// the teacher's convertYAMLToJSON + gojsonschema.Validate flow.
func validateSchema(data []byte, schema *gojsonschema.Schema) error {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("parsing document for schema validation: %w", err)
	}
	jsonData, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("converting document to JSON for schema validation: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return fmt.Errorf("script does not match schema:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}

// CompileSchema compiles a JSON Schema document (as raw JSON or YAML bytes)
// for use as LoadOptions.Schema.
func CompileSchema(schemaData []byte) (*gojsonschema.Schema, error) {
	var generic any
	if err := yaml.Unmarshal(schemaData, &generic); err != nil {
		return nil, fmt.Errorf("config: CompileSchema: %w", err)
	}
	jsonData, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("config: CompileSchema: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("config: CompileSchema: %w", err)
	}
	return schema, nil
}

// checkVersion rejects a document version outside acceptedConstraint, per
// spec.md's "reject scripts built for an incompatible engine major
// version". An empty acceptedConstraint defaults to "same major version as
// EngineVersion".
func checkVersion(docVersion, acceptedConstraint string) error {
	version, err := semver.StrictNewVersion(strings.TrimPrefix(docVersion, "v"))
	if err != nil {
		return fmt.Errorf("script version %q: %w", docVersion, err)
	}

	if acceptedConstraint == "" {
		engine, err := semver.StrictNewVersion(EngineVersion)
		if err != nil {
			return fmt.Errorf("engine version %q: %w", EngineVersion, err)
		}
		if version.Major() != engine.Major() {
			return fmt.Errorf("script version %s is incompatible with engine major version %d", version, engine.Major())
		}
		return nil
	}

	constraint, err := semver.NewConstraint(acceptedConstraint)
	if err != nil {
		return fmt.Errorf("accepted version constraint %q: %w", acceptedConstraint, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("script version %s does not satisfy constraint %q", version, acceptedConstraint)
	}
	return nil
}
