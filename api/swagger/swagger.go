package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "ETD Pipeline API",
        "description": "Publication, preservation and catalog export pipeline for electronic theses.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Publication", "description": "Thesis submission to the institutional repository"},
        {"name": "Pipeline", "description": "Background pipeline stages"},
        {"name": "Files", "description": "Signed artifact downloads"},
        {"name": "Observability", "description": "Probes and counters"}
    ],
    "paths": {
        "/theses/{id}": {
            "get": {
                "tags": ["Publication"],
                "summary": "Thesis pipeline status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/theses/{id}/publish": {
            "post": {
                "tags": ["Publication"],
                "summary": "Submit one thesis to the repository",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Thesis locked or changed concurrently", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Thesis not publishable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/theses/{id}/authors": {
            "patch": {
                "tags": ["Publication"],
                "summary": "Update author workflow flags",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateAuthorsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/publications/batch": {
            "post": {
                "tags": ["Publication"],
                "summary": "Queue publication of several theses",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PublishBatchRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reconciliations": {
            "post": {
                "tags": ["Pipeline"],
                "summary": "Queue a pass over the publication result channel",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/preservations": {
            "post": {
                "tags": ["Pipeline"],
                "summary": "Queue preservation packaging",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ThesisSelection"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/proquest/exports": {
            "post": {
                "tags": ["Pipeline"],
                "summary": "Queue a dissertation vendor export batch",
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/ThesisSelection"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/marc/exports": {
            "post": {
                "tags": ["Pipeline"],
                "summary": "Queue a MARC catalog export",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ThesisSelection"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "tags": ["Pipeline"],
                "summary": "Pipeline job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/files/{token}": {
            "get": {
                "tags": ["Files"],
                "summary": "Download a file through a signed link",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File contents"},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/snapshot": {
            "get": {
                "tags": ["Observability"],
                "summary": "Pipeline counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ThesisSelection": {
            "type": "object",
            "properties": {
                "thesisIds": {"type": "array", "items": {"type": "integer"}},
                "status": {"type": "string", "example": "Published"},
                "graduationPeriod": {"type": "string", "example": "2021-06"},
                "limit": {"type": "integer"}
            }
        },
        "PublishBatchRequest": {
            "type": "object",
            "required": ["thesisIds"],
            "properties": {
                "thesisIds": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "AuthorFlagsRequest": {
            "type": "object",
            "required": ["authorId"],
            "properties": {
                "authorId": {"type": "integer"},
                "graduationConfirmed": {"type": "boolean"},
                "proquestAllowed": {"type": "boolean"}
            }
        },
        "UpdateAuthorsRequest": {
            "type": "object",
            "required": ["authors"],
            "properties": {
                "authors": {"type": "array", "items": {"$ref": "#/definitions/AuthorFlagsRequest"}}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
