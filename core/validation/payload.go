package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSON-schema validation of inbound API payloads. The ledger
// re-validates semantics (bounds, ownership, expiration); these schemas
// only reject malformed shapes before they reach it.

const grantPayloadSchema = `{
  "type": "object",
  "required": ["provider", "dataTypes", "purposes"],
  "additionalProperties": false,
  "properties": {
    "provider":  { "type": "string", "minLength": 1 },
    "dataTypes": { "type": "array", "items": { "type": "string" }, "minItems": 1 },
    "purposes":  { "type": "array", "items": { "type": "string" }, "minItems": 1 },
    "expiresAt": { "type": "string", "format": "date-time" }
  }
}`

const requestPayloadSchema = `{
  "type": "object",
  "required": ["patient", "dataTypes", "purposes"],
  "additionalProperties": false,
  "properties": {
    "patient":   { "type": "string", "minLength": 1 },
    "dataTypes": { "type": "array", "items": { "type": "string" }, "minItems": 1 },
    "purposes":  { "type": "array", "items": { "type": "string" }, "minItems": 1 },
    "expiresAt": { "type": "string", "format": "date-time" }
  }
}`

const respondPayloadSchema = `{
  "type": "object",
  "required": ["requestId", "approve"],
  "additionalProperties": false,
  "properties": {
    "requestId": { "type": "string", "minLength": 1 },
    "approve":   { "type": "boolean" }
  }
}`

const legacyImportSchema = `{
  "type": "object",
  "required": ["id", "patientAddress", "providerAddress", "dataType", "purpose", "createdAt"],
  "additionalProperties": false,
  "properties": {
    "id":              { "type": "string", "minLength": 1 },
    "patientAddress":  { "type": "string", "minLength": 1 },
    "providerAddress": { "type": "string", "minLength": 1 },
    "dataType":        { "type": "string", "minLength": 1 },
    "purpose":         { "type": "string", "minLength": 1 },
    "createdAt":       { "type": "string", "format": "date-time" },
    "expiresAt":       { "type": "string", "format": "date-time" },
    "active":          { "type": "boolean" }
  }
}`

var schemas = map[string]*gojsonschema.Schema{}

func init() {
	for name, raw := range map[string]string{
		"grant":        grantPayloadSchema,
		"request":      requestPayloadSchema,
		"respond":      respondPayloadSchema,
		"legacyImport": legacyImportSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("payload schema %q invalid: %v", name, err))
		}
		schemas[name] = schema
	}
}

func validate(name string, payload []byte) error {
	result, err := schemas[name].Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return fmt.Errorf("payload failed schema validation: %s", strings.Join(details, "; "))
	}
	return nil
}

// ValidateGrantPayload checks a grantConsent request body.
func ValidateGrantPayload(payload []byte) error {
	return validate("grant", payload)
}

// ValidateRequestPayload checks a requestAccess request body.
func ValidateRequestPayload(payload []byte) error {
	return validate("request", payload)
}

// ValidateRespondPayload checks a respondToAccessRequest request body.
func ValidateRespondPayload(payload []byte) error {
	return validate("respond", payload)
}

// ValidateLegacyImportPayload checks a legacy consent import body.
func ValidateLegacyImportPayload(payload []byte) error {
	return validate("legacyImport", payload)
}
