package treasury

import (
	"context"
	"time"
)

// Church is a local congregation. Reports, monthly ledgers and most
// transactions belong to one.
type Church struct {
	ID         ChurchID
	Name       string
	City       string
	PastorName string
	IsActive   bool
	CreatedAt  time.Time
}

type ChurchStore interface {
	GetChurch(ctx context.Context, id ChurchID) (*Church, error)
	ListChurches(ctx context.Context) ([]Church, error)
	SaveChurch(ctx context.Context, c Church) error
}
