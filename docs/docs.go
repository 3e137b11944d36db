// Package docs registers the bridge's OpenAPI document with swag so that
// gin-swagger can serve it under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/info": {
            "get": {
                "description": "Static description of the bridged device. Never contacts the device.",
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Device information",
                "responses": {
                    "200": {"description": "Device information", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/data": {
            "get": {
                "description": "Sends one GET_DATA request to the device. Query parameters other than raw are forwarded as the read query.",
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Read device data",
                "parameters": [
                    {"type": "boolean", "description": "Return the device bytes verbatim", "name": "raw", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Decoded device reply", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Device rejected the request", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "Device unreachable or sent an invalid reply", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "504": {"description": "Device did not answer in time", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/cmd": {
            "post": {
                "description": "Forwards the request body as one command. The wire format comes from ?format=, then Content-Type, then the device configuration.",
                "consumes": ["text/plain", "application/json", "application/xml", "text/csv"],
                "produces": ["application/json"],
                "tags": ["Bridge"],
                "summary": "Send device command",
                "parameters": [
                    {"type": "string", "description": "Wire format override (JSON, XML, CSV, RAW_LINE)", "name": "format", "in": "query"},
                    {"type": "boolean", "description": "Wait for a device reply (default true)", "name": "expect_reply", "in": "query"},
                    {"type": "boolean", "description": "Return the device bytes verbatim", "name": "raw", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Decoded device reply", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "202": {"description": "Command sent, no reply requested", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Malformed command or device rejection", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "413": {"description": "Command too large", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "Device unreachable or sent an invalid reply", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "504": {"description": "Device did not answer in time", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Get overall service health including device reachability",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "Service is healthy", "schema": {"$ref": "#/definitions/handler.HealthResponse"}},
                    "503": {"description": "Device unreachable", "schema": {"$ref": "#/definitions/handler.HealthResponse"}}
                }
            }
        },
        "/ready": {
            "get": {
                "description": "Check if the bridge can reach its device",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Service is ready"},
                    "503": {"description": "Device unreachable"}
                }
            }
        },
        "/live": {
            "get": {
                "description": "Check if service is alive",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Liveness check",
                "responses": {
                    "200": {"description": "Service is alive"}
                }
            }
        },
        "/ws/stream": {
            "get": {
                "description": "Upgrades to a websocket and pushes a ReadData result every interval.",
                "tags": ["WebSocket"],
                "summary": "Stream device data",
                "parameters": [
                    {"type": "string", "description": "Poll interval, a Go duration or milliseconds", "name": "interval", "in": "query"}
                ],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/ws/events": {
            "get": {
                "description": "Upgrades to a websocket and pushes an event for every device exchange.",
                "tags": ["WebSocket"],
                "summary": "Exchange events",
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        }
    },
    "definitions": {
        "utils.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "string"},
                "kind": {"type": "string", "enum": ["CONNECT_FAILED", "TIMEOUT", "MALFORMED_REQUEST", "MALFORMED_DEVICE_REPLY", "DEVICE_REJECTED", "UNKNOWN"]},
                "retryable": {"type": "boolean"}
            }
        },
        "utils.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "error": {"$ref": "#/definitions/utils.APIError"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "handler.CheckResult": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "message": {"type": "string"},
                "data": {"type": "object", "additionalProperties": true}
            }
        },
        "handler.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string"},
                "service": {"type": "string"},
                "version": {"type": "string"},
                "uptime": {"type": "string"},
                "checks": {"type": "object", "additionalProperties": {"$ref": "#/definitions/handler.CheckResult"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Device Bridge API",
	Description:      "HTTP façade over a single networked device speaking JSON, XML, CSV or line-oriented text",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
