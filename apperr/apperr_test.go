package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(StorageError, "put", cause)

	assert.True(t, Is(err, StorageError))
	assert.False(t, Is(err, Conflict))
	assert.ErrorIs(t, err, cause)
}

func TestKindOfDefaultsForUnclassified(t *testing.T) {
	assert.Equal(t, MetadataError, KindOf(errors.New("plain")))
	assert.Equal(t, ValidationFailed, KindOf(New(ValidationFailed, "size")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(StorageError, "")))
	assert.True(t, Retryable(New(QueueError, "")))
	assert.False(t, Retryable(New(ValidationFailed, "")))
	assert.False(t, Retryable(New(Forbidden, "")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ValidationFailed))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Forbidden))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ServiceOverloaded))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Kind("unknown")))
}
