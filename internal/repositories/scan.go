package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/money"
)

// Numeric columns are selected as ::text and parsed after Scan so no
// precision passes through float64.
type amounts struct {
	raw []*string
	dst []*decimal.Decimal
}

func (a *amounts) col(dst *decimal.Decimal) *string {
	s := new(string)
	a.raw = append(a.raw, s)
	a.dst = append(a.dst, dst)
	return s
}

func (a *amounts) parse() error {
	for i, s := range a.raw {
		d, err := money.Parse(*s)
		if err != nil {
			return err
		}
		*a.dst[i] = d
	}
	return nil
}

// optional turns pgx.ErrNoRows into (nil, nil).
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
