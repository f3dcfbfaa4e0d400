package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("config.column", ErrCodeValidation, "column not found")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "config.column", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "column not found", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("metadata.rowCount", ErrCodeValidation, "row count out of sync")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("nodes[0]", ErrCodeCircularDependency, "err2")
	r2.AddWarning("nodes[1]", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("config.column", ErrCodeValidation, "column not found")

	err := r.ToError()
	require.NotNil(t, err)

	dfErr, ok := err.(*DataflowError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, dfErr.Code)
	assert.Equal(t, "column not found", dfErr.Message)
	assert.Equal(t, 1, dfErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")
	r.AddError("/", ErrCodeValidation, "err2")
	r.AddWarning("/", ErrCodeValidation, "warn1")

	err := r.ToError()
	require.NotNil(t, err)

	dfErr, ok := err.(*DataflowError)
	require.True(t, ok)
	assert.Contains(t, dfErr.Message, "2 errors")
	assert.Equal(t, 2, dfErr.Details["error_count"])
	assert.Equal(t, 1, dfErr.Details["warning_count"])
}

func TestValidationResult_Messages(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("inputs.input", ErrCodeValidation, "Input dataset is required")
	r.AddError("config.groupColumns", ErrCodeValidation, "At least one group column is required")
	r.AddWarning("config.yAxis", ErrCodeValidation, "non-numeric value")

	assert.Equal(t, []string{"Input dataset is required", "At least one group column is required"}, r.ErrorMessages())
	assert.Equal(t, []string{"non-numeric value"}, r.WarningMessages())
}

func TestValidationResult_ToError_SharedCode(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("config.code", ErrCodeCodeSafety, "code contains disallowed construct: dynamic evaluation (eval)")

	err := r.ToError()
	assert.Equal(t, ErrCodeCodeSafety, ErrorCode(err))

	r.AddError("config.timeout", ErrCodeValidation, "timeout out of range")
	assert.Equal(t, ErrCodeValidation, ErrorCode(r.ToError()))
}
