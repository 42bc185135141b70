// Package repository defines error types that are reused across multiple
// repositories. These sentinel values let the service layer tell "nothing
// there" apart from "lost a race" apart from infrastructure failures.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by user creation when the lower-cased email is
// already registered.
var ErrEmailExists = errors.New("email already exists")

// ErrNotActive is returned by conditional updates (rotation, OTP attempt
// counting and consumption) when the row is no longer in the state the
// caller expected, typically because a concurrent request got there first.
var ErrNotActive = errors.New("row no longer active")

// ErrUserChanged is returned by session issuance when the user's token
// version or active flag no longer matches what the caller read, because a
// password change, logout-all or suspension committed in between.
var ErrUserChanged = errors.New("user changed since it was read")

// ErrConflict is returned when an insert collides with a concurrent writer
// on a unique index, such as two logins on the same device at once. The
// operation may be retried.
var ErrConflict = errors.New("conflict")

const (
	mysqlDuplicateEntry = 1062
	mysqlDeadlock       = 1213
)

func mysqlCode(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

func isDuplicate(err error) bool { return mysqlCode(err) == mysqlDuplicateEntry }

// isContention reports a unique-index collision or a deadlock victim.
func isContention(err error) bool {
	switch mysqlCode(err) {
	case mysqlDuplicateEntry, mysqlDeadlock:
		return true
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
