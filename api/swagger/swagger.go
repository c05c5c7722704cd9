package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Timetable Engine API",
        "description": "Timetable generation, conflict resolution and template recommendation",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Schedules", "description": "Timetable generation and versions"},
        {"name": "Conflicts", "description": "Conflict detection and resolution workflow"},
        {"name": "Sessions", "description": "Session lifecycle"},
        {"name": "Templates", "description": "Template recommendation and reuse"},
        {"name": "Teaching Loads", "description": "Load status and statistics"},
        {"name": "Settings", "description": "Per-institution time grid"},
        {"name": "Exports", "description": "Timetable files"}
    ],
    "paths": {
        "/schedules/generate": {
            "post": {
                "tags": ["Schedules"],
                "summary": "Generate a new schedule version",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/GenerateScheduleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Configuration invalid or infeasible", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules": {
            "get": {
                "tags": ["Schedules"],
                "summary": "List schedule versions",
                "parameters": [
                    {"in": "query", "name": "institutionId", "type": "string", "required": true},
                    {"in": "query", "name": "academicYearId", "type": "string", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/schedules/{id}": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Get a schedule",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{id}/sessions": {
            "get": {
                "tags": ["Schedules"],
                "summary": "List sessions of a schedule",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/schedules/{id}/detect": {
            "post": {
                "tags": ["Conflicts"],
                "summary": "Run conflict detection",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "body", "name": "payload", "schema": {"type": "object", "properties": {"retrigger": {"type": "boolean"}}}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/schedules/{id}/conflicts": {
            "get": {
                "tags": ["Conflicts"],
                "summary": "List conflicts",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "query", "name": "status", "type": "string"},
                    {"in": "query", "name": "severity", "type": "string"},
                    {"in": "query", "name": "type", "type": "string"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "pageSize", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Conflicts"],
                "summary": "Report a conflict manually",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/schedules/{id}/approval-gate": {
            "get": {
                "tags": ["Conflicts"],
                "summary": "Report whether the schedule may be approved",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/conflicts/{id}": {
            "get": {
                "tags": ["Conflicts"],
                "summary": "Get a conflict",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/conflicts/{id}/transition": {
            "post": {
                "tags": ["Conflicts"],
                "summary": "Move a conflict through the resolution workflow",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/TransitionConflictRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition or stale state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{id}/{action}": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Apply a lifecycle action to a session",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "path", "name": "action", "type": "string", "required": true, "enum": ["confirm", "start", "complete", "cancel", "move", "substitute"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid session transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/templates/recommend": {
            "post": {
                "tags": ["Templates"],
                "summary": "Recommend templates for a workload",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/templates/from-schedule/{id}": {
            "post": {
                "tags": ["Templates"],
                "summary": "Create a template from a generated schedule",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/templates/{id}/apply": {
            "post": {
                "tags": ["Templates"],
                "summary": "Apply a template to settings and loads",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/templates/{id}": {
            "delete": {
                "tags": ["Templates"],
                "summary": "Deactivate an institution template",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/teaching-loads": {
            "get": {
                "tags": ["Teaching Loads"],
                "summary": "List teaching loads",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/teaching-loads/statistics": {
            "get": {
                "tags": ["Teaching Loads"],
                "summary": "Summarise teaching loads",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/teaching-loads/ready": {
            "post": {
                "tags": ["Teaching Loads"],
                "summary": "Mark loads ready for scheduling",
                "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/TeachingLoadStatusRequest"}}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/teaching-loads/reset": {
            "post": {
                "tags": ["Teaching Loads"],
                "summary": "Reset loads to pending",
                "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/TeachingLoadStatusRequest"}}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/timegrid/{institutionId}": {
            "get": {
                "tags": ["Settings"],
                "summary": "Get the time grid of an institution",
                "parameters": [{"in": "path", "name": "institutionId", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/settings/{institutionId}": {
            "get": {
                "tags": ["Settings"],
                "summary": "Get generation settings",
                "parameters": [{"in": "path", "name": "institutionId", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Settings"],
                "summary": "Replace generation settings",
                "parameters": [{"in": "path", "name": "institutionId", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Configuration invalid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{id}/export": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a schedule as csv, pdf or xlsx",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "query", "name": "format", "type": "string", "enum": ["csv", "pdf", "xlsx"]}
                ],
                "responses": {"200": {"description": "File"}}
            }
        },
        "/schedules/{id}/export/publish": {
            "post": {
                "tags": ["Exports"],
                "summary": "Store a rendered schedule and return a signed link",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "query", "name": "format", "type": "string", "enum": ["csv", "pdf", "xlsx"]}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/exports/download": {
            "get": {
                "tags": ["Exports"],
                "summary": "Fetch a published export",
                "security": [],
                "produces": ["application/octet-stream"],
                "parameters": [{"in": "query", "name": "token", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Bad signature", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Expired or removed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "GenerateScheduleRequest": {
            "type": "object",
            "required": ["institutionId", "academicYearId", "teachingLoadIds"],
            "properties": {
                "institutionId": {"type": "string"},
                "academicYearId": {"type": "string"},
                "teachingLoadIds": {"type": "array", "items": {"type": "string"}},
                "templateId": {"type": "string"}
            }
        },
        "TransitionConflictRequest": {
            "type": "object",
            "required": ["action"],
            "properties": {
                "action": {"type": "string", "enum": ["acknowledge", "start_resolution", "resolve", "ignore", "escalate"]},
                "notes": {"type": "string"},
                "actions": {"type": "array", "items": {"type": "string"}}
            }
        },
        "TeachingLoadStatusRequest": {
            "type": "object",
            "required": ["institutionId", "teachingLoadIds"],
            "properties": {
                "institutionId": {"type": "string"},
                "teachingLoadIds": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
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
