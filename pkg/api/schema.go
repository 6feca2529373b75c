package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// createReportSchema constrains POST /reports bodies before any job is
// created. Requests failing validation never reach the orchestrator.
const createReportSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["test_run_id"],
	"additionalProperties": false,
	"properties": {
		"test_run_id": {
			"type": "string",
			"minLength": 1,
			"maxLength": 128
		},
		"formats": {
			"type": "array",
			"maxItems": 3,
			"items": {
				"type": "string",
				"enum": ["json", "html", "pdf"]
			}
		}
	}
}`

// submitArtifactSchema constrains POST /test-runs/{id}/artifacts bodies.
const submitArtifactSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["image_b64"],
	"additionalProperties": false,
	"properties": {
		"artifact_id": {
			"type": "string",
			"maxLength": 128
		},
		"image_b64": {
			"type": "string",
			"minLength": 1
		},
		"captured_at": {
			"type": "string",
			"format": "date-time"
		}
	}
}`

func compileSchema(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://visiongate.dev/schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return compiled
}

var (
	createReportValidator   = compileSchema("create-report", createReportSchema)
	submitArtifactValidator = compileSchema("submit-artifact", submitArtifactSchema)
)
