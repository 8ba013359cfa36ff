package classifier

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/xaenox/opinion-topics/internal/models"
)

var (
	schemaOnce sync.Once
	schemaText string
)

var referenceType = reflect.TypeOf(models.Reference{})

// ResponseSchema is the JSON schema of Response, embedded in every prompt.
func ResponseSchema() string {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties:  false,
			DoNotReference:             true,
			RequiredFromJSONSchemaTags: false,
			ExpandedStruct:             true,
			Mapper: func(t reflect.Type) *jsonschema.Schema {
				if t == referenceType {
					return &jsonschema.Schema{
						OneOf: []*jsonschema.Schema{
							{Type: "integer"},
							{Type: "string"},
						},
					}
				}
				return nil
			},
		}
		schema := reflector.Reflect(&Response{})
		schema.Version = ""
		b, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			panic(err)
		}
		schemaText = string(b)
	})
	return schemaText
}
