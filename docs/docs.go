// Package docs holds the generated OpenAPI document served at /swagger/.
// Regenerate with `go generate ./internal/server`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/scan": {
            "post": {
                "consumes": ["application/json"],
                "summary": "Start a scan",
                "parameters": [
                    {
                        "description": "scan target",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/server.ScanRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.ScanAccepted"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/server.ScanAccepted"}}
                }
            }
        },
        "/api/scan/status/{url}": {
            "get": {
                "summary": "Scan status for a target URL",
                "parameters": [
                    {"type": "string", "description": "target url", "name": "url", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/api/reports": {
            "get": {
                "summary": "List completed reports",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/reports/html/{filename}": {
            "get": {
                "produces": ["text/html"],
                "summary": "View a rendered report",
                "parameters": [
                    {"type": "string", "description": "report filename", "name": "filename", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/api/reports/download/{filename}": {
            "get": {
                "produces": ["text/html"],
                "summary": "Download a rendered report",
                "parameters": [
                    {"type": "string", "description": "report filename", "name": "filename", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/api/reports/delete/{filename}/{url}": {
            "delete": {
                "summary": "Delete a report",
                "parameters": [
                    {"type": "string", "description": "report filename", "name": "filename", "in": "path", "required": true},
                    {"type": "string", "description": "target url fallback", "name": "url", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/server.DeleteResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/api/history": {
            "get": {
                "summary": "List scan attempt history",
                "parameters": [
                    {"type": "integer", "description": "max entries (default 50)", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "server.ScanRequest": {
            "type": "object",
            "properties": {
                "url": {"type": "string", "example": "https://example.com"}
            }
        },
        "server.ScanAccepted": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "started"},
                "url": {"type": "string", "example": "https://example.com"},
                "message": {"type": "string"},
                "monitor_url": {"type": "string", "example": "/api/scan/status/https://example.com"}
            }
        },
        "server.DeleteResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "success"},
                "message": {"type": "string"}
            }
        },
        "server.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ZAP Scanner API",
	Description:      "Asynchronous OWASP ZAP scan orchestration: start scans, follow their logs and browse rendered reports.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
