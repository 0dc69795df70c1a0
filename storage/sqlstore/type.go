package sqlstore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedDriver is returned by DetectFromDatabaseURL for an
// unrecognized URL scheme.
var ErrUnsupportedDriver = errors.New("sqlstore: unsupported database driver")

// Type identifies which SQL dialect a database URL addresses.
type Type uint8

const (
	// TypeUnknown means the URL scheme was not recognized.
	TypeUnknown Type = iota
	// TypeMySQL addresses a MySQL/MariaDB server.
	TypeMySQL
	// TypePostgreSQL addresses a PostgreSQL server.
	TypePostgreSQL
	// TypeSQLite addresses a local SQLite file or in-memory database.
	TypeSQLite
)

// DetectFromDatabaseURL detects the database type given a database URL.
func DetectFromDatabaseURL(dbURL string) (Type, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return TypeUnknown, fmt.Errorf("sqlstore: error parsing the database URL %q: %w", dbURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mysql":
		return TypeMySQL, nil
	case "postgres", "postgresql":
		return TypePostgreSQL, nil
	case "sqlite", "sqlite3":
		return TypeSQLite, nil
	default:
		return TypeUnknown, fmt.Errorf("%w: %q", ErrUnsupportedDriver, u.Scheme)
	}
}

// String returns the string representation of a Type.
func (t Type) String() string {
	switch t {
	case TypeMySQL:
		return "MySQL"
	case TypePostgreSQL:
		return "PostgreSQL"
	case TypeSQLite:
		return "SQLite"
	case TypeUnknown:
		fallthrough
	default:
		return "unknown"
	}
}
