package metadata

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"ocrforge.dev/apperr"
)

func TestClassifyInsertErr(t *testing.T) {
	uniqueViolation := &pgconn.PgError{Code: pgUniqueViolation}
	assert.True(t, apperr.Is(classifyInsertErr(uniqueViolation, "file"), apperr.Conflict))

	fkViolation := &pgconn.PgError{Code: "23503"}
	assert.True(t, apperr.Is(classifyInsertErr(fkViolation, "file"), apperr.MetadataError))

	assert.True(t, apperr.Is(classifyInsertErr(errors.New("connection reset"), "file"), apperr.MetadataError))
}
