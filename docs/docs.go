// Package docs registers the modelbench OpenAPI document with swag.
// Regenerate with `swag init -g cmd/modelbench/docs.go -o docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {"get": {"summary": "List catalog models", "produces": ["application/json"],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}}},
        "/models/{id}": {"get": {"summary": "Get one model", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Model"}},
                          "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
        "/models/{id}/download": {
            "post": {"summary": "Start a bundle download", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.Model"}}}},
            "delete": {"summary": "Cancel an in-flight download", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}}},
        "/models/{id}/bundle": {"delete": {"summary": "Delete the local bundle", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "OK"}}}},
        "/models/{id}/load": {"post": {"summary": "Load a model into the session", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
            "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}},
                          "409": {"description": "Session closed"}, "422": {"description": "Initialization failed"},
                          "502": {"description": "Download failed"}, "503": {"description": "Backend unavailable"}}}},
        "/downloads": {"get": {"summary": "List download statuses", "responses": {"200": {"description": "OK"}}}},
        "/downloads/events": {"get": {"summary": "Stream download statuses", "produces": ["application/x-ndjson"], "responses": {"200": {"description": "OK"}}}},
        "/session/reset": {"post": {"summary": "Reset the conversation", "responses": {"204": {"description": "No Content"}}}},
        "/prompt": {"post": {"summary": "Send one user turn", "consumes": ["application/json"], "produces": ["application/json", "application/x-ndjson"],
            "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.PromptRequest"}}],
            "responses": {"200": {"description": "OK"}, "409": {"description": "Session not ready or closed"}}}},
        "/tests/domains": {"get": {"summary": "List suite domains", "responses": {"200": {"description": "OK"}}}},
        "/tests/run": {"post": {"summary": "Run the test suite", "produces": ["application/x-ndjson"],
            "responses": {"200": {"description": "OK"}, "429": {"description": "Run in progress"}}}},
        "/auth/token": {
            "put": {"summary": "Set the download token", "responses": {"204": {"description": "No Content"}}},
            "delete": {"summary": "Clear the download token", "responses": {"204": {"description": "No Content"}}}},
        "/status": {"get": {"summary": "Daemon status", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}}}
    },
    "definitions": {
        "types.ErrorResponse": {"type": "object", "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}},
        "types.Model": {"type": "object", "properties": {
            "id": {"type": "string"}, "family": {"type": "string"}, "download_url": {"type": "string"},
            "bundle_filename": {"type": "string"}, "approximate_size_bytes": {"type": "integer"},
            "supports_tools": {"type": "boolean"}, "quantization": {"type": "string"}, "download_state": {"type": "string"}}},
        "types.ModelsResponse": {"type": "object", "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}}},
        "types.PromptRequest": {"type": "object", "properties": {"prompt": {"type": "string"}, "stream": {"type": "boolean"}}},
        "types.StatusResponse": {"type": "object", "properties": {
            "engine_state": {"type": "string"}, "model_id": {"type": "string"}, "backend": {"type": "string"},
            "catalog_size": {"type": "integer"}, "active_downloads": {"type": "integer"}, "last_error": {"type": "string"},
            "uptime_seconds": {"type": "integer"}, "server_time_unix": {"type": "integer"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "modelbench API",
	Description:      "HTTP API for on-device model downloads, inference sessions and test runs.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
