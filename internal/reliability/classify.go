package reliability

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Class is the retry verdict for an error.
type Class string

const (
	// ClassTransient marks infrastructure failures that may clear on retry.
	ClassTransient Class = "TRANSIENT"
	// ClassPermanent marks logical or data failures that retrying cannot fix.
	ClassPermanent Class = "PERMANENT"
	// ClassTimeout marks a deadline exceeded while waiting on an operation.
	ClassTimeout Class = "TIMEOUT"
)

// Postgres SQLSTATE codes. Codes are checked before message text because the
// text varies across driver versions while the codes do not.
var transientPGCodes = map[string]bool{
	"53300": true, // too_many_connections
	"53400": true, // configuration_limit_exceeded
	"57P03": true, // cannot_connect_now
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

var permanentPGCodes = map[string]bool{
	"23505": true, // unique_violation
	"23503": true, // foreign_key_violation
	"23502": true, // not_null_violation
	"23514": true, // check_violation
	"42P01": true, // undefined_table
	"42703": true, // undefined_column
	"42501": true, // insufficient_privilege
}

var transientSignatures = []string{
	"connection refused",
	"connection reset",
	"connection aborted",
	"econnrefused",
	"econnreset",
	"etimedout",
	"broken pipe",
	"no such host",
	"host unreachable",
	"network is unreachable",
	"timeout",
	"timed out",
	"too many connections",
	"too many clients",
	"pool exhausted",
	"connection pool",
	"service unavailable",
	"temporarily unavailable",
}

var permanentSignatures = []string{
	"invalid input",
	"invalid syntax",
	"syntax error",
	"malformed",
	"out of range",
	"unique constraint",
	"duplicate key",
	"foreign key",
	"permission denied",
	"access denied",
	"not found",
	"does not exist",
	"undefined column",
	"undefined table",
}

// Classify assigns err to a retry class. The structured tier (timeout types,
// Postgres SQLSTATE codes, net errors) is authoritative; lower-cased message
// substrings are a fallback only. Unrecognized errors are ClassPermanent: an
// unbounded retry loop on an unknown error is worse than one visible failure.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return ClassTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	if code := pgCode(err); code != "" {
		switch {
		case strings.HasPrefix(code, "08"): // connection_exception class
			return ClassTransient
		case transientPGCodes[code]:
			return ClassTransient
		case permanentPGCodes[code]:
			return ClassPermanent
		case strings.HasPrefix(code, "22"): // data_exception class
			return ClassPermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return ClassTransient
		}
	}
	for _, sig := range permanentSignatures {
		if strings.Contains(msg, sig) {
			return ClassPermanent
		}
	}

	return ClassPermanent
}

// Retryable reports whether the class permits another attempt.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassTimeout
}

// String implements fmt.Stringer.
func (c Class) String() string {
	return string(c)
}

func pgCode(err error) string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
