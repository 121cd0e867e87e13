package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrapped(t *testing.T) {
	base := NotFound(CodeDatasetNotFound, "dataset", "abc")
	wrapped := fmt.Errorf("load: %w", base)

	assert.Equal(t, CodeDatasetNotFound, CodeOf(wrapped))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, CodeDatasetNotFound))
	assert.Equal(t, "abc", base.Meta["id"])
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestKinds(t *testing.T) {
	cases := []struct {
		code Code
		kind Kind
	}{
		{CodeValidation, KindValidation},
		{CodeMissingColumns, KindValidation},
		{CodeModelNotFound, KindNotFound},
		{CodeTraining, KindComputation},
		{CodeTimeout, KindComputation},
		{CodeExternal, KindExternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, New(tc.code, "x").Kind(), tc.code)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeEDA, cause, "EDA computation failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "EDA_ERROR: EDA computation failed: disk full", err.Error())
}

func TestMissingColumns(t *testing.T) {
	err := MissingColumns([]string{"age", "city"})
	assert.Equal(t, CodeMissingColumns, err.Code)
	assert.Contains(t, err.Error(), "age, city")
	assert.Equal(t, []string{"age", "city"}, err.Meta["missing_columns"])
}
