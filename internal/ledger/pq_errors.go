package ledger

import (
	"errors"

	"github.com/lib/pq"
)

// statementTimeoutCode, serializationFailureCode and lockNotAvailableCode
// are the Postgres SQLSTATE codes a timed-out statement, a
// serializable-isolation conflict or a timed-out lock wait surfaces as.
// This package sets no timeout itself; the codes appear only when the
// server is configured with one.
const (
	statementTimeoutCode     = "57014"
	serializationFailureCode = "40001"
	lockNotAvailableCode     = "55P03"
)

func isStatementTimeout(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case statementTimeoutCode, serializationFailureCode, lockNotAvailableCode:
			return true
		}
	}
	return false
}
