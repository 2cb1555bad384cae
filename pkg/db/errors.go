package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The SQLSTATE code is checked first; the message text is a
// fallback for drivers that do not surface structured errors. When
// constraintName is provided the violation must reference that constraint.
func IsUniqueViolation(err error, constraintName string) bool {
	return isConstraintViolation(err, pgUniqueViolation, "duplicate key value", constraintName)
}

// IsForeignKeyViolation reports whether err is a Postgres foreign-key
// violation, optionally scoped to constraintName.
func IsForeignKeyViolation(err error, constraintName string) bool {
	return isConstraintViolation(err, pgForeignKeyViolation, "foreign key constraint", constraintName)
}

func isConstraintViolation(err error, code, signature, constraintName string) bool {
	if err == nil {
		return false
	}

	if pgCode, pgConstraint, ok := constraintFields(err); ok {
		if pgCode != code {
			return false
		}
		if constraintName != "" {
			return pgConstraint == constraintName
		}
		return true
	}

	msg := err.Error()
	if !strings.Contains(msg, signature) {
		return false
	}
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return true
}

func constraintFields(err error) (code, constraint string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}
