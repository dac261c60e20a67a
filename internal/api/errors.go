package api

import (
	"context"
	"errors"
	"net/http"

	"churn-engine/internal/dataset"
	"churn-engine/internal/engine"
	"churn-engine/internal/ml"
	"churn-engine/internal/schema"
)

// Error kinds reported in the "kind" field of error responses.
const (
	KindSchemaError       = "schema_error"
	KindInsufficientData  = "insufficient_data"
	KindSchemaMismatch    = "schema_mismatch"
	KindIndexOutOfRange   = "index_out_of_range"
	KindLoadError         = "load_error"
	KindNotTrained        = "not_trained"
	KindNotScored         = "not_scored"
	KindNoScoringData     = "no_scoring_data"
	KindModelReplaced     = "model_replaced"
	KindCustomerNotFound  = "customer_not_found"
	KindModelNotFound     = "model_not_found"
	KindRegistryDisabled  = "registry_disabled"
	KindNoPreviousVersion = "no_previous_version"
	KindBadRequest        = "bad_request"
	KindTimeout           = "timeout"
	KindInternal          = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Kind    string      `json:"kind"`
	Details interface{} `json:"details,omitempty"`
}

// classify maps an engine error to its HTTP status, kind and optional details.
func classify(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}

	var (
		schemaErr    *schema.SchemaError
		mismatch     *schema.MismatchError
		insufficient *ml.InsufficientDataError
		outOfRange   *ml.IndexOutOfRangeError
		loadErr      *dataset.LoadError
	)
	switch {
	case errors.As(err, &schemaErr):
		resp.Kind, resp.Details = KindSchemaError, schemaErr.Problems
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &mismatch):
		resp.Kind = KindSchemaMismatch
		resp.Details = map[string]interface{}{
			"missing_columns": mismatch.MissingColumns,
			"problems":        mismatch.Problems,
		}
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &insufficient):
		resp.Kind, resp.Details = KindInsufficientData, insufficient
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &outOfRange):
		resp.Kind = KindIndexOutOfRange
		return http.StatusNotFound, resp
	case errors.As(err, &loadErr):
		resp.Kind = KindLoadError
		return http.StatusBadRequest, resp
	case errors.Is(err, engine.ErrNotTrained):
		resp.Kind = KindNotTrained
		return http.StatusConflict, resp
	case errors.Is(err, engine.ErrNotScored):
		resp.Kind = KindNotScored
		return http.StatusConflict, resp
	case errors.Is(err, engine.ErrNoScoringData):
		resp.Kind = KindNoScoringData
		return http.StatusConflict, resp
	case errors.Is(err, engine.ErrModelReplaced):
		resp.Kind = KindModelReplaced
		return http.StatusConflict, resp
	case errors.Is(err, engine.ErrCustomerNotFound):
		resp.Kind = KindCustomerNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, ml.ErrNoPreviousVersion):
		resp.Kind = KindNoPreviousVersion
		return http.StatusConflict, resp
	case errors.Is(err, ml.ErrModelNotFound):
		resp.Kind = KindModelNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, engine.ErrNoRegistry):
		resp.Kind = KindRegistryDisabled
		return http.StatusNotImplemented, resp
	case errors.Is(err, context.DeadlineExceeded):
		resp.Kind = KindTimeout
		return http.StatusGatewayTimeout, resp
	}

	resp.Kind = KindInternal
	return http.StatusInternalServerError, resp
}
