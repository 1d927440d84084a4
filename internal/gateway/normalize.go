package gateway

import (
	"github.com/canonica-labs/meshgate/internal/adapters"
	"github.com/canonica-labs/meshgate/internal/errors"
	"github.com/canonica-labs/meshgate/pkg/models"
)

// Normalize converts an adapter result into the response envelope.
// Diagnostics are forwarded as reported. A result with neither rows nor
// errors becomes a NO_RESULT error.
func Normalize(result *adapters.QueryResult) models.Envelope {
	switch {
	case result.Failed():
		return models.Envelope{
			Errors:   result.Errors,
			Metadata: result.Metadata,
		}
	case result.HasRows():
		return models.Envelope{
			Result:   result.Rows,
			Warnings: result.Warnings,
			Metadata: result.Metadata,
		}
	}

	backend := ""
	if result != nil {
		if b, ok := result.Metadata["engine"].(string); ok {
			backend = b
		}
	}
	return models.Envelope{
		Errors: []models.Diagnostic{errors.NewNoResult(backend).Diagnostic()},
	}
}
