package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["server"],
  "$defs": {
    "duration": {"type": ["string", "number"]}
  },
  "properties": {
    "name": {"type": "string"},
    "server": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "url": {"type": "string"},
        "codec": {"enum": ["json", "cbor"]},
        "handshakeTimeout": {"$ref": "#/$defs/duration"},
        "sendBuffer": {"type": "integer", "minimum": 0}
      }
    },
    "fleet": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "maxBots": {"type": "integer", "minimum": 0},
        "tickRate": {"type": "number", "exclusiveMinimum": 0},
        "seed": {"type": "integer", "minimum": 0},
        "namePrefix": {"type": "string", "maxLength": 10},
        "moveByDefault": {"type": "boolean"}
      }
    },
    "movement": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "interval": {"$ref": "#/$defs/duration"},
        "stepSize": {"type": "number", "minimum": 0},
        "arrivalThreshold": {"type": "number", "minimum": 0},
        "minDistance": {"type": "number", "minimum": 0},
        "maxDistance": {"type": "number", "minimum": 0},
        "cooldownMin": {"type": "integer", "minimum": 0},
        "cooldownMax": {"type": "integer", "minimum": 0}
      }
    },
    "spawn": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "count": {"type": "integer", "minimum": 0},
        "delayTicks": {"type": "integer", "minimum": 0},
        "names": {"type": "array", "items": {"type": "string"}}
      }
    },
    "record": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "traceDir": {"type": "string"},
        "indexPath": {"type": "string"}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "warning", "error"]},
        "format": {"enum": ["text", "json"]}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("fleet.schema.json", documentSchema)

// ValidateDocument checks the raw configuration document against the
// configuration schema, catching unknown keys and mistyped values that
// plain decoding would silently accept.
//
// Returns nil if valid, or a *ValidationErrors with one entry per failing
// location.
func ValidateDocument(data []byte, path string) error {
	doc, err := decodeGeneric(data, path)
	if err != nil {
		return err
	}

	err = compiledSchema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema validation: %w", err)
	}

	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Message)
	}
	return errs
}

// collectSchemaErrors keeps the leaf causes, which carry the useful messages.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(pointerToField(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// pointerToField turns "/spawn/names/1" into "spawn.names[1]".
func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	var sb strings.Builder
	for i, part := range strings.Split(ptr, "/") {
		if isIndex(part) {
			fmt.Fprintf(&sb, "[%s]", part)
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
