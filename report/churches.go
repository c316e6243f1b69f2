package report

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/treasury"
)

// Churches is the thin church directory reports are filed against.
type Churches struct {
	store treasury.ChurchStore
	now   func() time.Time
}

func NewChurches(store treasury.ChurchStore) *Churches {
	return &Churches{store: store, now: time.Now}
}

type ChurchInput struct {
	ID         treasury.ChurchID
	Name       string
	City       string
	PastorName string
}

// Create registers a church. An empty ID gets a generated one.
func (c *Churches) Create(ctx context.Context, caller auth.Identity, in ChurchInput) (*treasury.Church, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := treasury.ValidateRequired("name", in.Name); err != nil {
		return nil, err
	}
	id := treasury.ChurchID(strings.TrimSpace(string(in.ID)))
	if id == "" {
		id = treasury.ChurchID(uuid.NewString())
	}
	existing, err := c.store.GetChurch(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, treasury.Conflict("Ya existe una iglesia con el identificador %q", id)
	}

	church := treasury.Church{
		ID:         id,
		Name:       strings.TrimSpace(in.Name),
		City:       strings.TrimSpace(in.City),
		PastorName: strings.TrimSpace(in.PastorName),
		IsActive:   true,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.store.SaveChurch(ctx, church); err != nil {
		return nil, err
	}
	return &church, nil
}

func (c *Churches) Get(ctx context.Context, id treasury.ChurchID) (*treasury.Church, error) {
	church, err := c.store.GetChurch(ctx, id)
	if err != nil {
		return nil, err
	}
	if church == nil {
		return nil, treasury.NotFound("Iglesia no encontrada")
	}
	return church, nil
}

// List returns every church for admins and only their own for everyone else.
func (c *Churches) List(ctx context.Context, caller auth.Identity) ([]treasury.Church, error) {
	if !caller.IsAdmin() {
		church, err := c.store.GetChurch(ctx, caller.ChurchID)
		if err != nil || church == nil {
			return []treasury.Church{}, err
		}
		return []treasury.Church{*church}, nil
	}
	return c.store.ListChurches(ctx)
}
