// Package openapi builds the OpenAPI document describing the keysmith HTTP
// API.
package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Generate returns an OpenAPI 3.1 document for the key management and
// verification endpoints. tag is the raw key tag (e.g. "ks") used in
// examples.
func Generate(version, baseURL, tag string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keysmith API",
			Description: "Issue, list, rename and delete API keys, and resolve a presented key to its owner.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["ownerToken"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Owner session token issued by the identity layer. The sub claim is the owner id.",
		},
	}
	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        "X-API-Key",
			Description: fmt.Sprintf("Raw API key, e.g. %s_<64 hex>. May also be sent as Authorization: Bearer.", tag),
		},
	}

	doc.Components.Schemas["ErrorResponse"] = errorSchema()
	doc.Components.Schemas["KeyMeta"] = keyMetaSchema()
	doc.Components.Schemas["IssuedKey"] = issuedKeySchema(tag)
	doc.Components.Schemas["KeyName"] = keyNameSchema()
	doc.Components.Schemas["Identity"] = identitySchema()

	ownerOnly := &openapi3.SecurityRequirements{{"ownerToken": {}}}
	keyOnly := &openapi3.SecurityRequirements{{"apiKey": {}}}

	doc.Paths = openapi3.NewPaths()
	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get:  listKeysOperation(ownerOnly),
		Post: issueKeyOperation(ownerOnly),
	})
	doc.Paths.Set("/api/v1/keys/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").
				WithDescription("API key id.").
				WithSchema(openapi3.NewStringSchema())},
		},
		Patch:  renameKeyOperation(ownerOnly),
		Delete: deleteKeyOperation(ownerOnly),
	})
	doc.Paths.Set("/api/v1/whoami", &openapi3.PathItem{
		Get: whoAmIOperation(keyOnly),
	})

	return doc
}

func issueKeyOperation(sec *openapi3.SecurityRequirements) *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Issue an API key",
		Description: "Create a key for the authenticated owner. The raw key is returned in key_secret exactly once and cannot be retrieved again.",
		OperationID: "issue_key",
		Security:    sec,
		RequestBody: jsonBody("Key label", "#/components/schemas/KeyName"),
		Responses:   newResponses("201", "Issued key", ref("IssuedKey"), "400", "401", "500"),
	}
}

func listKeysOperation(sec *openapi3.SecurityRequirements) *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "List API keys",
		Description: "List the metadata of every key owned by the caller, oldest first.",
		OperationID: "list_keys",
		Security:    sec,
		Responses: newResponses("200", "Key metadata", &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"resource": &openapi3.SchemaRef{
						Value: &openapi3.Schema{
							Type:  &openapi3.Types{"array"},
							Items: ref("KeyMeta"),
						},
					},
					"meta": metaSchema(),
				},
			},
		}, "401", "500"),
	}
}

func renameKeyOperation(sec *openapi3.SecurityRequirements) *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Rename an API key",
		OperationID: "rename_key",
		Security:    sec,
		RequestBody: jsonBody("New key label", "#/components/schemas/KeyName"),
		Responses:   newResponses("200", "Updated key metadata", ref("KeyMeta"), "400", "401", "404", "500"),
	}
}

func deleteKeyOperation(sec *openapi3.SecurityRequirements) *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Delete an API key",
		Description: "Permanently delete a key owned by the caller. Later verification of the key fails.",
		OperationID: "delete_key",
		Security:    sec,
		Responses: newResponses("200", "Key deleted", &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"success": &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()},
					"message": &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
				},
			},
		}, "401", "404", "500"),
	}
}

func whoAmIOperation(sec *openapi3.SecurityRequirements) *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{"verify"},
		Summary:     "Resolve the presented API key",
		Description: "Verify the presented key and return the identity it belongs to.",
		OperationID: "whoami",
		Security:    sec,
		Responses:   newResponses("200", "Verified identity", ref("Identity"), "401", "500"),
	}
}

func jsonBody(description, schemaRef string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef(schemaRef, nil)),
		},
	}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

var errorDescriptions = map[string]string{
	"400": "Bad request",
	"401": "Unauthorized",
	"404": "Not found",
	"500": "Internal server error",
}

// newResponses builds the success response plus the listed error statuses,
// all of which share the ErrorResponse schema.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref("ErrorResponse")
	for _, code := range errorCodes {
		desc := errorDescriptions[code]
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
