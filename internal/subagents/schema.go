package subagents

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Record schemas for the JSONL runtime files. Validation is fail-open:
// a line that fails its schema is skipped with a warning, the same as a
// line that is not JSON at all.
const activeRecordSchema = `{
  "type": "object",
  "required": ["taskId"],
  "properties": {
    "sessionKey": {"type": "string"},
    "sessionLabel": {"type": "string"},
    "taskId": {"type": "string"},
    "model": {"type": "string"},
    "startedAt": {"type": "string"},
    "timeoutMinutes": {"type": "integer"}
  }
}`

const cachedRecordSchema = `{
  "type": "object",
  "required": ["cachedAt"],
  "properties": {
    "sessionLabel": {"type": "string"},
    "taskId": {"type": "string"},
    "cachedAt": {"type": "string"},
    "outcome": {"type": "string"}
  }
}`

const activityRecordSchema = `{
  "type": "object",
  "required": ["timestamp"],
  "properties": {
    "category": {"type": "string"},
    "sessionLabel": {"type": "string"},
    "timestamp": {"type": "string"},
    "metadata": {"type": "object"}
  }
}`

type recordSchemas struct {
	active   *jsonschema.Schema
	cached   *jsonschema.Schema
	activity *jsonschema.Schema
}

func compileRecordSchemas() (*recordSchemas, error) {
	rs := &recordSchemas{}
	for _, entry := range []struct {
		name string
		src  string
		dst  **jsonschema.Schema
	}{
		{"active-record.json", activeRecordSchema, &rs.active},
		{"cached-record.json", cachedRecordSchema, &rs.cached},
		{"activity-record.json", activityRecordSchema, &rs.activity},
	} {
		schema, err := compileSchema(entry.name, entry.src)
		if err != nil {
			return nil, err
		}
		*entry.dst = schema
	}
	return rs, nil
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// validRecord checks one raw JSONL line against a record schema.
func validRecord(schema *jsonschema.Schema, raw json.RawMessage) bool {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return false
	}
	return schema.Validate(doc) == nil
}
