// Package docs registers the OpenAPI document served by the swagger UI.
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
    "securityDefinitions": {
        "OwnerHeader": {"type": "apiKey", "name": "X-User-ID", "in": "header"}
    },
    "security": [{"OwnerHeader": []}],
    "paths": {
        "/api/scans": {
            "get": {
                "tags": ["scans"],
                "summary": "List scans",
                "parameters": [
                    {"type": "integer", "description": "page size (max 100)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "page offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/service.ScanListResult"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            },
            "post": {
                "tags": ["scans"],
                "summary": "Submit resume text or a file for heuristic scoring",
                "consumes": ["application/json", "multipart/form-data"],
                "parameters": [
                    {"name": "body", "in": "body", "schema": {"$ref": "#/definitions/handler.createScanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.ScanRecord"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "403": {"description": "Quota exceeded", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/api/scans/{id}": {
            "get": {
                "tags": ["scans"],
                "summary": "Get a scan",
                "parameters": [{"type": "string", "description": "scan id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ScanRecord"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/api/scans/{id}/analyze": {
            "post": {
                "tags": ["scans"],
                "summary": "Enrich a scan with AI analysis",
                "description": "Idempotent: an analyzed scan is returned unchanged.",
                "parameters": [{"type": "string", "description": "scan id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ScanRecord"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/api/scans/{id}/report": {
            "get": {
                "tags": ["scans"],
                "summary": "Report projection of a scan",
                "parameters": [{"type": "string", "description": "scan id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ReportView"}}
                }
            }
        },
        "/api/usage": {
            "get": {
                "tags": ["usage"],
                "summary": "Quota usage for the current period",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.usageResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.createScanRequest": {
            "type": "object",
            "properties": {"filename": {"type": "string"}, "text": {"type": "string"}}
        },
        "handler.errorPayload": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "error": {"type": "object", "properties": {"code": {"type": "string"}, "message": {"type": "string"}}}
            }
        },
        "handler.usageResponse": {
            "type": "object",
            "properties": {
                "plan": {"type": "string"},
                "limit": {"type": "integer"},
                "scansUsed": {"type": "integer"},
                "remaining": {"type": "integer"},
                "periodStart": {"type": "string", "format": "date-time"},
                "periodEnd": {"type": "string", "format": "date-time"}
            }
        },
        "model.BiasFlag": {
            "type": "object",
            "properties": {
                "category": {"type": "string"},
                "description": {"type": "string"},
                "severity": {"type": "string", "enum": ["Low", "Moderate", "High"]},
                "suggestion": {"type": "string"}
            }
        },
        "model.ReportView": {
            "type": "object",
            "properties": {
                "filename": {"type": "string"},
                "score": {"type": "integer"},
                "riskLevel": {"type": "string"},
                "status": {"type": "string"},
                "summary": {"type": "string"},
                "flags": {"type": "array", "items": {"$ref": "#/definitions/model.BiasFlag"}},
                "timestamp": {"type": "string", "format": "date-time"},
                "disclaimer": {"type": "string"}
            }
        },
        "model.ScanRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "owner": {"type": "string"},
                "filename": {"type": "string"},
                "rawText": {"type": "string"},
                "storagePath": {"type": "string"},
                "score": {"type": "integer"},
                "riskLevel": {"type": "string"},
                "state": {"type": "string", "enum": ["scored", "analyzed"]},
                "status": {"type": "string", "enum": ["scored", "analyzed", "degraded"]},
                "heuristicResult": {"type": "object"},
                "analysis": {"type": "object"},
                "analyzedAt": {"type": "string", "format": "date-time"},
                "schemaVersion": {"type": "integer"},
                "createdAt": {"type": "string", "format": "date-time"}
            }
        },
        "service.ScanListResult": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/model.ScanRecord"}},
                "total": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Bias Audit API",
	Description:      "Resume bias screening: heuristic scoring, AI enrichment and monthly scan quotas.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
