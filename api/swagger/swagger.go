package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Lab Result API",
        "description": "Validation and lifecycle engine for laboratory test results",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Results", "description": "Result lifecycle and amendment history"},
        {"name": "Rules", "description": "Validation rule evaluation and cache administration"},
        {"name": "System", "description": "Health and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["System"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "tags": ["System"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is unavailable"}
                }
            }
        },
        "/results": {
            "get": {
                "tags": ["Results"],
                "summary": "List results",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "patient_id", "in": "query", "type": "string"},
                    {"name": "test_id", "in": "query", "type": "string"},
                    {"name": "order_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "description": "Comma separated statuses"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Results"],
                "summary": "Create result",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateResultRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Result already exists"},
                    "422": {"description": "Value blocked by validation rules"}
                }
            }
        },
        "/results/{id}": {
            "get": {
                "tags": ["Results"],
                "summary": "Get result",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "If-None-Match", "in": "header", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "304": {"description": "Not Modified"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/results/{id}/history": {
            "get": {
                "tags": ["Results"],
                "summary": "List amendment history",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/results/{id}/transitions": {
            "post": {
                "tags": ["Results"],
                "summary": "Apply a lifecycle event",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "If-Match", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition or version conflict"},
                    "422": {"description": "Value blocked by validation rules"},
                    "428": {"description": "Critical value acknowledgement required"}
                }
            }
        },
        "/evaluations": {
            "post": {
                "tags": ["Rules"],
                "summary": "Evaluate a candidate value",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EvaluateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rules/{testId}/invalidate": {
            "post": {
                "tags": ["Rules"],
                "summary": "Invalidate cached rules",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "testId", "in": "path", "required": true, "type": "string", "description": "Test identifier or * for all"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        }
    },
    "definitions": {
        "ReferenceRange": {
            "type": "object",
            "properties": {
                "resultType": {"type": "string", "enum": ["numeric", "qualitative", "text"]},
                "low": {"type": "number"},
                "high": {"type": "number"},
                "unit": {"type": "string"},
                "text": {"type": "string"},
                "allowedValues": {"type": "array", "items": {"type": "string"}}
            }
        },
        "PatientContext": {
            "type": "object",
            "properties": {
                "gender": {"type": "string"},
                "birthDate": {"type": "string", "format": "date-time"}
            }
        },
        "PriorValue": {
            "type": "object",
            "properties": {
                "resultId": {"type": "string"},
                "value": {"type": "string"},
                "enteredAt": {"type": "string", "format": "date-time"}
            }
        },
        "CreateResultRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "orderId": {"type": "string"},
                "sampleId": {"type": "string"},
                "patientId": {"type": "string"},
                "testId": {"type": "string"},
                "unit": {"type": "string"},
                "referenceRange": {"$ref": "#/definitions/ReferenceRange"},
                "patient": {"$ref": "#/definitions/PatientContext"},
                "value": {"type": "string"}
            },
            "required": ["orderId", "sampleId", "patientId", "testId"]
        },
        "TransitionPayload": {
            "type": "object",
            "properties": {
                "newValue": {"type": "string"},
                "reasonCode": {"type": "string"},
                "notes": {"type": "string"},
                "rejectionReason": {"type": "string"},
                "notifiedPerson": {"type": "string"},
                "notificationTime": {"type": "string"},
                "override": {"type": "boolean"},
                "overrideNote": {"type": "string"}
            }
        },
        "TransitionRequest": {
            "type": "object",
            "properties": {
                "event": {"type": "string", "enum": ["enter_value", "mark_preliminary", "submit_for_review", "edit_value", "reject", "request_senior_review", "record_notification", "verify", "approve", "amend"]},
                "expectedVersion": {"type": "integer"},
                "payload": {"$ref": "#/definitions/TransitionPayload"}
            },
            "required": ["event"]
        },
        "EvaluateRequest": {
            "type": "object",
            "properties": {
                "testId": {"type": "string"},
                "value": {"type": "string"},
                "patientId": {"type": "string"},
                "referenceRange": {"$ref": "#/definitions/ReferenceRange"},
                "priorValues": {"type": "array", "items": {"$ref": "#/definitions/PriorValue"}},
                "patient": {"$ref": "#/definitions/PatientContext"},
                "at": {"type": "string", "format": "date-time"}
            },
            "required": ["testId"]
        },
        "DeltaCheck": {
            "type": "object",
            "properties": {
                "priorResultId": {"type": "string"},
                "priorValue": {"type": "string"},
                "change": {"type": "string"},
                "type": {"type": "string", "enum": ["percent", "absolute"]},
                "threshold": {"type": "string"},
                "exceeded": {"type": "boolean"}
            }
        },
        "ValidationOutcome": {
            "type": "object",
            "properties": {
                "isValid": {"type": "boolean"},
                "isCritical": {"type": "boolean"},
                "requiresReview": {"type": "boolean"},
                "flag": {"type": "string"},
                "flags": {"type": "array", "items": {"type": "string"}},
                "warnings": {"type": "array", "items": {"type": "string"}},
                "errors": {"type": "array", "items": {"type": "string"}},
                "configurationWarnings": {"type": "array", "items": {"type": "string"}},
                "delta": {"$ref": "#/definitions/DeltaCheck"}
            }
        },
        "Amendment": {
            "type": "object",
            "properties": {
                "seq": {"type": "integer"},
                "kind": {"type": "string", "enum": ["correction", "amendment"]},
                "timestamp": {"type": "string", "format": "date-time"},
                "actor": {"type": "string"},
                "previousValue": {"type": "string"},
                "newValue": {"type": "string"},
                "previousFlag": {"type": "string"},
                "newFlag": {"type": "string"},
                "reasonCode": {"type": "string"},
                "reasonDetail": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "TestResult": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "tenantId": {"type": "string"},
                "orderId": {"type": "string"},
                "sampleId": {"type": "string"},
                "patientId": {"type": "string"},
                "testId": {"type": "string"},
                "value": {"type": "string"},
                "unit": {"type": "string"},
                "referenceRangeSnapshot": {"$ref": "#/definitions/ReferenceRange"},
                "flag": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "entered", "preliminary", "pending_review", "verified", "final", "corrected", "amended", "rejected"]},
                "lastOutcome": {"$ref": "#/definitions/ValidationOutcome"},
                "amendments": {"type": "array", "items": {"$ref": "#/definitions/Amendment"}},
                "version": {"type": "integer"},
                "createdAt": {"type": "string", "format": "date-time"},
                "updatedAt": {"type": "string", "format": "date-time"}
            }
        },
        "TransitionResponse": {
            "type": "object",
            "properties": {
                "result": {"$ref": "#/definitions/TestResult"},
                "outcome": {"$ref": "#/definitions/ValidationOutcome"},
                "change": {"$ref": "#/definitions/Amendment"}
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
