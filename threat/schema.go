package threat

import (
	"errors"
	"fmt"
	"os"

	"soctriage/core"

	"gopkg.in/yaml.v3"
)

// schemaFile is the on-disk layout of extra extraction schemas:
//
//	schemas:
//	  "Policy:IAMUser":
//	    AccessKeyIP: ip
//	    CallerDomain: domain
type schemaFile struct {
	Schemas map[string]map[string]string `yaml:"schemas"`
}

// LoadSchemas reads extra field schemas from a YAML file. Field names are
// case sensitive, so they are kept out of the main config.
func LoadSchemas(path string) (map[string]FieldSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return ParseSchemas(data)
}

// ParseSchemas decodes and validates a schema document
func ParseSchemas(data []byte) (map[string]FieldSchema, error) {
	var doc schemaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	schemas := make(map[string]FieldSchema, len(doc.Schemas))
	for key, fields := range doc.Schemas {
		if key == "" {
			return nil, errors.New("schema with empty key")
		}
		schema := make(FieldSchema, len(fields))
		for field, kind := range fields {
			k := core.IndicatorKind(kind)
			if !k.IsValid() {
				return nil, fmt.Errorf("schema %s: field %s has unknown indicator kind %q", key, field, kind)
			}
			schema[field] = k
		}
		schemas[key] = schema
	}
	return schemas, nil
}
