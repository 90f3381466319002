package postgres

import (
	"database/sql"
	"errors"

	"ctf-scoring-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const uniqueViolation = "23505"

// Open returns a bun handle over the pgdriver connector.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}

// mapErr translates driver failures into domain errors. Domain errors pass through.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAlreadyCredited),
		errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, domain.ErrNotFound):
		return err
	case isUniqueViolation(err):
		return domain.ErrAlreadyCredited
	default:
		return domain.Unavailable(op, err)
	}
}
