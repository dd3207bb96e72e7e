package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a conditional update matched no row: the record is no
	// longer in the state the caller expected.
	ErrConflict = errors.New("record changed concurrently")
)

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
