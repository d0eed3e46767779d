package errors

import (
	"database/sql"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClonesMatchTheirTemplate(t *testing.T) {
	err := fmt.Errorf("load draft: %w", Clone(ErrNotFound, "registration not found"))

	assert.True(t, stdErrors.Is(err, ErrNotFound))
	assert.False(t, stdErrors.Is(err, ErrConflict))
	assert.Equal(t, "registration not found", FromError(err).Message)
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(sql.ErrNoRows, ErrNotFound.Code, ErrNotFound.Status, "registration not found")

	assert.True(t, stdErrors.Is(err, ErrNotFound))
	assert.True(t, stdErrors.Is(err, sql.ErrNoRows))
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(stdErrors.New("boom"))

	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Nil(t, FromError(nil))
}
