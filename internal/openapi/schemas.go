package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

func stringProp(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: description}}
}

func timeProp(description string, nullable bool) *openapi3.SchemaRef {
	s := &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time", Description: description}
	if nullable {
		s.Type = &openapi3.Types{"string", "null"}
	}
	return &openapi3.SchemaRef{Value: s}
}

func errorSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

func keyMetaProperties() openapi3.Schemas {
	return openapi3.Schemas{
		"id":           stringProp("Key id."),
		"name":         stringProp("Owner-chosen label."),
		"key_prefix":   stringProp("Leading characters of the raw key, safe to display."),
		"last_used_at": timeProp("Time of the last successful verification, if any.", true),
		"created_at":   timeProp("Creation time.", false),
	}
}

// keyMetaSchema never carries the secret or its digest.
func keyMetaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: keyMetaProperties(),
			Required:   []string{"id", "name", "key_prefix", "created_at"},
		},
	}
}

func issuedKeySchema(tag string) *openapi3.SchemaRef {
	props := keyMetaProperties()
	delete(props, "last_used_at")
	props["key_secret"] = stringProp(fmt.Sprintf("The raw key (%s_<64 hex>). Returned only in this response.", tag))
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
			Required:   []string{"id", "name", "key_prefix", "created_at", "key_secret"},
		},
	}
}

func keyNameSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"name": stringProp("Key label, 1 to 128 characters."),
			},
			Required: []string{"name"},
		},
	}
}

func identitySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"owner_id": stringProp("Owner of the presented key."),
				"key_id":   stringProp("Id of the presented key."),
			},
		},
	}
}

func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int64",
						Description: "Number of keys returned.",
					},
				},
			},
		},
	}
}
