package upgrade

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

func TestValidationErrorMessage(t *testing.T) {
	assert.Equal(t, "validation failed", NewValidationError().Error())
	assert.Equal(t, "one", NewValidationError("one").Error())
	assert.Equal(t, "2 validation errors: one; two", NewValidationError("one", "two").Error())
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", NewValidationError("x"), false},
		{"wrapped validation", fmt.Errorf("task: %w", NewValidationError("x")), false},
		{"reindex", &ReindexTriggerError{Err: errors.New("x")}, false},
		{"task execution", &TaskExecutionError{TaskID: "t", Version: version.Build(1), Err: errors.New("x")}, true},
		{"orchestration", &FatalOrchestrationError{Op: "read", Err: errors.New("x")}, true},
		{"task wrapping validation", &TaskExecutionError{Err: NewValidationError("x")}, true},
		{"plain", errors.New("x"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	assert.NoError(t, c.Err())
	c.Addf("missing %s", "baseDN")
	assert.Equal(t, 1, c.Len())

	var ve *ValidationError
	assert.True(t, errors.As(c.Err(), &ve))
	assert.Equal(t, []string{"missing baseDN"}, ve.Messages)
}
