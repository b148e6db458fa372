// Package openapi generates the OpenAPI 3.1 document describing the public
// v1 surface. The document is built programmatically so route changes and
// the published contract live in the same repository.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// GenerateSpec builds the OpenAPI document for the v1 API.
func GenerateSpec(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Gatehouse API",
			Description: "Workspace-scoped agent API guarded by API key authentication and per-workspace rate limits.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			Description:  "Workspace API key of the form sk-<64 hex chars>.",
			BearerFormat: "opaque",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"bearerAuth": {}},
	}

	doc.Components.Schemas["ErrorResponse"] = errorResponseSchema()
	doc.Components.Schemas["Agent"] = agentSchema()
	doc.Components.Schemas["KnowledgeDocument"] = documentSchema()
	doc.Components.Schemas["Webhook"] = webhookSchema()

	doc.Paths = openapi3.NewPaths()
	addAgentPaths(doc)
	addKnowledgePaths(doc)
	addWebhookPaths(doc)

	// Resolve internal #/components refs so the in-memory document is
	// self-contained; serialization is unchanged ($ref strings still win).
	_ = openapi3.NewLoader().ResolveRefsIn(doc, nil)

	return doc
}

func addAgentPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/agents", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"agents"},
			Summary:     "List agents",
			Description: "Return the agents owned by the authenticated workspace.",
			OperationID: "list_agents",
			Responses: newResponses("200", "Workspace agents", &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"agents": &openapi3.SchemaRef{
							Value: &openapi3.Schema{
								Type:  &openapi3.Types{"array"},
								Items: openapi3.NewSchemaRef("#/components/schemas/Agent", nil),
							},
						},
						"count": intSchema(),
					},
				},
			}),
		},
	})

	chatRequest := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"message"},
			Properties: openapi3.Schemas{
				"message":    stringSchema("Message to send to the agent."),
				"session_id": stringSchema("Existing conversation session. Omitted to start a new one."),
			},
		},
	}
	chatResponse := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"agent_id":   stringSchema(""),
				"session_id": stringSchema(""),
				"reply":      stringSchema("Agent reply text."),
			},
		},
	}

	doc.Paths.Set("/api/v1/agents/{agentId}/chat", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"agents"},
			Summary:     "Chat with an agent",
			OperationID: "chat",
			Parameters:  agentIDParameter(),
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithJSONSchemaRef(chatRequest),
				},
			},
			Responses: newResponses("200", "Agent reply", chatResponse),
		},
	})
}

func addKnowledgePaths(doc *openapi3.T) {
	listResponse := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"documents": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: openapi3.NewSchemaRef("#/components/schemas/KnowledgeDocument", nil),
					},
				},
				"count": intSchema(),
			},
		},
	}

	addRequest := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"title", "content"},
			Properties: openapi3.Schemas{
				"title":   stringSchema(""),
				"content": stringSchema(""),
			},
		},
	}

	doc.Paths.Set("/api/v1/agents/{agentId}/knowledge", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"knowledge"},
			Summary:     "List knowledge documents",
			OperationID: "list_documents",
			Parameters:  agentIDParameter(),
			Responses:   newResponses("200", "Agent knowledge documents", listResponse),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"knowledge"},
			Summary:     "Add a knowledge document",
			Description: "Attach a document to the agent's knowledge base. Requires the write scope.",
			OperationID: "add_document",
			Parameters:  agentIDParameter(),
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithJSONSchemaRef(addRequest),
				},
			},
			Responses: newResponses("201", "Created document",
				openapi3.NewSchemaRef("#/components/schemas/KnowledgeDocument", nil)),
		},
	})

	queryParam := openapi3.NewQueryParameter("q").
		WithDescription("Substring to search for in titles and content.").
		WithSchema(openapi3.NewStringSchema())
	queryParam.Required = true

	doc.Paths.Set("/api/v1/agents/{agentId}/knowledge/search", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"knowledge"},
			Summary:     "Search the knowledge base",
			OperationID: "search_documents",
			Parameters: append(agentIDParameter(),
				&openapi3.ParameterRef{Value: queryParam}),
			Responses: newResponses("200", "Matching documents", listResponse),
		},
	})
}

func addWebhookPaths(doc *openapi3.T) {
	createRequest := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"name", "url", "events"},
			Properties: openapi3.Schemas{
				"name": stringSchema(""),
				"url":  stringSchema("HTTPS endpoint receiving signed deliveries."),
				"events": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: stringSchema(""),
					},
				},
			},
		},
	}

	doc.Paths.Set("/api/v1/webhooks", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"webhooks"},
			Summary:     "List webhooks",
			OperationID: "list_webhooks",
			Responses: newResponses("200", "Registered webhooks", &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"webhooks": &openapi3.SchemaRef{
							Value: &openapi3.Schema{
								Type:  &openapi3.Types{"array"},
								Items: openapi3.NewSchemaRef("#/components/schemas/Webhook", nil),
							},
						},
						"count": intSchema(),
					},
				},
			}),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"webhooks"},
			Summary:     "Register a webhook",
			Description: "Register a callback endpoint. The signing secret is returned once. Requires the write scope.",
			OperationID: "create_webhook",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithJSONSchemaRef(createRequest),
				},
			},
			Responses: newResponses("201", "Created webhook with its signing secret",
				openapi3.NewSchemaRef("#/components/schemas/Webhook", nil)),
		},
	})

	idParam := openapi3.NewPathParameter("webhookId").WithSchema(openapi3.NewStringSchema())

	doc.Paths.Set("/api/v1/webhooks/{webhookId}", &openapi3.PathItem{
		Delete: &openapi3.Operation{
			Tags:        []string{"webhooks"},
			Summary:     "Delete a webhook",
			Description: "Remove a webhook registration. Requires the write scope.",
			OperationID: "delete_webhook",
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{Value: idParam},
			},
			Responses: newResponses("200", "Deleted", &openapi3.SchemaRef{
				Value: &openapi3.Schema{Type: &openapi3.Types{"object"}},
			}),
		},
	})
}

// ─── Schema builders ────────────────────────────────────────────────────────

func errorResponseSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"success": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    stringSchema("Machine-readable error code, e.g. RATE_LIMITED."),
							"message": stringSchema(""),
						},
					},
				},
			},
		},
	}
}

func agentSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":         stringSchema(""),
				"name":       stringSchema(""),
				"is_active":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"created_at": dateTimeSchema(),
			},
		},
	}
}

func documentSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":         stringSchema(""),
				"agent_id":   stringSchema(""),
				"title":      stringSchema(""),
				"content":    stringSchema(""),
				"created_at": dateTimeSchema(),
			},
		},
	}
}

func webhookSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":   stringSchema(""),
				"name": stringSchema(""),
				"url":  stringSchema(""),
				"events": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: stringSchema(""),
					},
				},
				"is_active":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"created_at": dateTimeSchema(),
			},
		},
	}
}

func stringSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:        &openapi3.Types{"string"},
			Description: description,
		},
	}
}

func intSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"},
	}
}

func dateTimeSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"},
	}
}

func agentIDParameter() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewPathParameter("agentId").WithSchema(openapi3.NewStringSchema()),
		},
	}
}

// newResponses builds a Responses map with a success response and the
// standard guard error responses every v1 route shares.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(wrapEnvelope(schema)),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for code, desc := range map[string]string{
		"401": "Missing or invalid API key",
		"403": "Key lacks the required scope or the client IP is not allowed",
		"429": "Workspace rate limit exceeded",
		"500": "Internal server error",
	} {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}

	return responses
}

// wrapEnvelope nests a payload schema inside the success envelope.
func wrapEnvelope(data *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"success": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"data":    data,
			},
		},
	}
}
