package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// metadataSchema constrains the optional metadata JSON submitted with
// an upload.
const metadataSchema = `{
	"type": "object",
	"properties": {
		"test_name": {"type": "string", "minLength": 1, "maxLength": 200},
		"environment": {"type": "string", "maxLength": 100},
		"target_base_url": {"type": "string", "format": "uri"},
		"notes": {"type": "string", "maxLength": 2000}
	},
	"required": ["test_name"],
	"additionalProperties": false
}`

// ErrInvalidMetadata is returned when upload metadata fails schema
// validation; the wrapped message lists the violations.
var ErrInvalidMetadata = errors.New("invalid upload metadata")

// ValidateMetadata checks raw metadata JSON against the schema. Empty
// input is allowed; metadata is optional.
func ValidateMetadata(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewStringLoader(metadataSchema)
	inputLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, inputLoader)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMetadata, err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		violations = append(violations, verr.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidMetadata, strings.Join(violations, "; "))
}
