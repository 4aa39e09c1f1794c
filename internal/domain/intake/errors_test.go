package intake

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/labflow/intake/internal/platform/metrics"
)

func TestKind_StatusAndOutcome(t *testing.T) {
	tests := []struct {
		kind    Kind
		status  int
		outcome string
	}{
		{KindMalformedPayload, http.StatusBadRequest, metrics.OutcomeMalformed},
		{KindUnauthorized, http.StatusUnauthorized, metrics.OutcomeUnauthorized},
		{KindSchemaInvalid, http.StatusBadRequest, metrics.OutcomeSchemaInvalid},
		{KindPayloadTooLarge, http.StatusRequestEntityTooLarge, metrics.OutcomeTooLarge},
		{KindUnhandledFailure, http.StatusInternalServerError, metrics.OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.HTTPStatus())
			assert.Equal(t, tt.outcome, tt.kind.outcome())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := newError(KindUnhandledFailure, "could not save order", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "could not save order: connection refused", err.Error())
	assert.Equal(t, "request body too large", newError(KindPayloadTooLarge, "request body too large", nil).Error())
}
