// Package apidocs registers the OpenAPI document served by the Swagger UI.
// Regenerate with `swag init` (see cmd/proofduckd/docs.go) after changing
// handler annotations.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "proofduck maintainers"},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/commands": {
            "post": {
                "tags": ["core"],
                "summary": "Send a command",
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "parameters": [{"in": "body", "name": "command", "required": true, "schema": {"$ref": "#/definitions/types.Command"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Event"}},
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/generate": {
            "post": {
                "tags": ["core"],
                "summary": "Generate",
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Event"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/quick": {
            "post": {
                "tags": ["core"],
                "summary": "Quick action",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.QuickRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.QuickResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/events": {
            "get": {
                "tags": ["core"],
                "summary": "Event stream",
                "produces": ["text/event-stream"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Event"}}}
            }
        },
        "/v1/status": {
            "get": {
                "tags": ["admin"],
                "summary": "Status",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/v1/settings": {
            "get": {
                "tags": ["settings"],
                "summary": "Get settings",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.BackendConfig"}}}
            },
            "put": {
                "tags": ["settings"],
                "summary": "Save settings",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "settings", "required": true, "schema": {"$ref": "#/definitions/types.BackendConfig"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SettingsResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/models": {
            "get": {
                "tags": ["models"],
                "summary": "List models",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/v1/models/{id}/export": {
            "get": {
                "tags": ["models"],
                "summary": "Export model",
                "produces": ["application/octet-stream"],
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true, "description": "Model id"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/models/import": {
            "post": {
                "tags": ["models"],
                "summary": "Import model package",
                "consumes": ["application/octet-stream"],
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ImportResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/page/extract": {
            "post": {
                "tags": ["core"],
                "summary": "Extract page text",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.PageExtractRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PageExtractResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.RemoteEndpoint": {
            "type": "object",
            "properties": {
                "baseUrl": {"type": "string", "example": "https://api.openai.com/v1"},
                "apiKey": {"type": "string"},
                "modelName": {"type": "string", "example": "gpt-4o-mini"}
            }
        },
        "types.BackendConfig": {
            "type": "object",
            "properties": {
                "backendKind": {"type": "string", "enum": ["local-gpu", "local-cpu", "builtin", "remote-http"]},
                "modelId": {"type": "string", "example": "Qwen2.5-0.5B-Instruct-q4f16_1"},
                "tone": {"type": "string", "enum": ["professional", "casual", "academic", "concise"]},
                "detailLevel": {"type": "string", "enum": ["standard", "detailed", "creative"]},
                "targetLanguage": {"type": "string", "example": "English"},
                "remoteEndpoint": {"$ref": "#/definitions/types.RemoteEndpoint"}
            }
        },
        "types.Command": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["load", "generate", "reset"]},
                "text": {"type": "string"},
                "mode": {"type": "string", "enum": ["summarize", "correct", "proofread", "translate", "expand"]},
                "backendConfig": {"$ref": "#/definitions/types.BackendConfig"},
                "correlationId": {"type": "string"}
            }
        },
        "types.Event": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["progress", "ready", "update", "complete", "error"]},
                "progress": {"type": "number"},
                "text": {"type": "string"},
                "mode": {"type": "string"},
                "correlationId": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "text": {"type": "string", "example": "Ths sentence has a typo."},
                "mode": {"type": "string", "example": "proofread"},
                "backendConfig": {"$ref": "#/definitions/types.BackendConfig"},
                "correlationId": {"type": "string"}
            }
        },
        "types.QuickRequest": {
            "type": "object",
            "properties": {
                "text": {"type": "string"},
                "mode": {"type": "string", "example": "translate"}
            }
        },
        "types.QuickResponse": {
            "type": "object",
            "properties": {
                "text": {"type": "string"},
                "mode": {"type": "string"},
                "correlationId": {"type": "string"}
            }
        },
        "types.SettingsResponse": {
            "type": "object",
            "properties": {
                "settings": {"$ref": "#/definitions/types.BackendConfig"},
                "load": {"type": "boolean"},
                "status": {"type": "string", "example": "loading"},
                "progressText": {"type": "string"}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "path": {"type": "string"},
                "size_bytes": {"type": "integer"},
                "family": {"type": "string"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}}
        },
        "types.EngineStatus": {
            "type": "object",
            "properties": {
                "backendKind": {"type": "string"},
                "modelId": {"type": "string"},
                "state": {"type": "string"},
                "last_used_unix": {"type": "integer"},
                "progress": {"type": "number"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "engines": {"type": "array", "items": {"$ref": "#/definitions/types.EngineStatus"}},
                "max_engines": {"type": "integer"},
                "current": {"type": "string"},
                "queue_len": {"type": "integer"},
                "processing": {"type": "boolean"},
                "engine_status": {"type": "string"},
                "ready_configs": {"type": "array", "items": {"type": "string"}},
                "failed_configs": {"type": "array", "items": {"type": "string"}},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
            }
        },
        "types.ImportResponse": {
            "type": "object",
            "properties": {
                "entries": {"type": "integer"},
                "bytes": {"type": "integer"},
                "skipped": {"type": "array", "items": {"type": "string"}},
                "error": {"type": "string"}
            }
        },
        "types.PageExtractRequest": {
            "type": "object",
            "properties": {"html": {"type": "string"}}
        },
        "types.PageExtractResponse": {
            "type": "object",
            "properties": {"text": {"type": "string"}}
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "invalid JSON body"},
                "code": {"type": "integer", "example": 400}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "proofduck API",
	Description:      "Local writing assistant: proofreading, correction, translation, summarization and expansion over local, built-in or remote language models.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
