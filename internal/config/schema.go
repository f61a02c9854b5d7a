package config

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "bind_addr": {"type": "string"},
    "log_level": {"enum": ["debug", "info", "warn", "warning", "error"]},
    "log_dir": {"type": "string"},
    "log_compress": {"type": "boolean"},
    "default_language": {"type": "string"},
    "database": {
      "type": "object",
      "properties": {
        "driver": {"enum": ["tsv", "sqlite", "postgres"]},
        "path": {"type": "string"},
        "delimiter": {"type": "string", "minLength": 1},
        "dsn": {"type": "string"}
      },
      "if": {"properties": {"driver": {"const": "postgres"}}, "required": ["driver"]},
      "then": {"required": ["dsn"], "properties": {"dsn": {"minLength": 1}}}
    },
    "clickup": {
      "type": "object",
      "properties": {
        "api_url": {"type": "string"},
        "list_id": {"type": "string"},
        "team_id": {"type": "string"},
        "command_prefix": {"type": "string", "minLength": 1},
        "account_field": {"type": "string"},
        "webhook_secret": {"type": "string"}
      }
    },
    "telegram": {
      "type": "object",
      "properties": {
        "api_endpoint": {"type": "string"},
        "file_endpoint": {"type": "string"},
        "webhook_url": {"type": "string"},
        "max_connections": {"type": "integer"}
      }
    },
    "secrets": {
      "type": "object",
      "properties": {
        "dir": {"type": "string"},
        "file": {"type": "string"},
        "age_identity": {"type": "string"}
      }
    },
    "rate_limit": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "requests_per_minute": {"type": "integer", "minimum": 0},
        "burst_size": {"type": "integer", "minimum": 0}
      }
    },
    "telemetry": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "exporter": {"enum": ["", "none", "stdout", "otlp-http"]},
        "endpoint": {"type": "string"},
        "service_name": {"type": "string"},
        "sample_rate": {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal config schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add config schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// Validate checks a JSON config document against the config schema.
func Validate(doc []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	// UnmarshalJSON keeps numbers as json.Number for exact integer checks.
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := s.Validate(inst); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
