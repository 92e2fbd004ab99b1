package factory

import (
	"errors"
	"strings"

	"github.com/loykin/themerig/internal/store"
	pg "github.com/loykin/themerig/internal/store/postgres"
	sq "github.com/loykin/themerig/internal/store/sqlite"
)

// ErrDisabled is returned for an empty DSN; history is then turned off.
var ErrDisabled = errors.New("history store disabled")

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, ErrDisabled
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	return sq.New(d)
}
