package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// SchemaID identifies the notesagent config schema in editor settings.
const SchemaID = "https://github.com/haasonsaas/notesagent/schemas/notesagent.schema.json"

// JSONSchema describes notesagent.yaml for editors; `notesagent config
// schema` prints it. Unknown keys are rejected, matching Load.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:              "yaml",
			AllowAdditionalProperties: false,
		}
		schema := r.Reflect(&Config{})
		schema.ID = jsonschema.ID(SchemaID)
		schema.Title = "notesagent configuration"
		schema.Description = fmt.Sprintf("notesagent.yaml, config version %d. Values may reference ${VAR} or ${VAR:-fallback}; APP_* variables override them.", CurrentVersion)
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}
