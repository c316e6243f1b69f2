/*
seed.go - Demo data for development environments

PURPOSE:
  Creates a handful of churches and the funds the approval flow writes to,
  so a fresh database can be exercised from the UI or curl right away.

BEHAVIOR:
  - Idempotent: existing churches are left alone, funds are found by name
  - Runs as the built-in admin identity
  - Enabled with DEMO_SEED=true; never run against production data

SEE ALSO:
  - cmd/server/main.go: calls Seed at startup
  - report/generator.go: fund names used by approvals
*/
package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/ledger"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/treasury"
)

var demoChurches = []report.ChurchInput{
	{ID: "iglesia-central", Name: "Iglesia Central", City: "Asunción", PastorName: "Juan Benítez"},
	{ID: "iglesia-norte", Name: "Iglesia del Norte", City: "Concepción", PastorName: "María Giménez"},
	{ID: "iglesia-sur", Name: "Iglesia del Sur", City: "Encarnación", PastorName: "Pedro Duarte"},
}

var seedIdentity = auth.Identity{UserID: "seed", Role: auth.RoleAdmin}

// Seed creates the demo churches and every fund an approval can touch.
func Seed(ctx context.Context, churches *report.Churches, funds *ledger.Funds, perChurchGeneral bool, logger *zap.Logger) error {
	created := 0
	for _, in := range demoChurches {
		if _, err := churches.Get(ctx, in.ID); err == nil {
			continue
		} else if treasury.KindOf(err) != treasury.KindNotFound {
			return err
		}
		if _, err := churches.Create(ctx, seedIdentity, in); err != nil {
			return fmt.Errorf("seed church %s: %w", in.ID, err)
		}
		created++
	}

	type fundSpec struct {
		name string
		typ  treasury.FundType
	}
	specs := []fundSpec{{report.NationalFundName, treasury.FundNational}}
	if perChurchGeneral {
		for _, in := range demoChurches {
			specs = append(specs, fundSpec{report.GeneralFundFor(in.ID, true), treasury.FundGeneral})
		}
	} else {
		specs = append(specs, fundSpec{report.GeneralFundName, treasury.FundGeneral})
	}
	for _, c := range report.Categories {
		specs = append(specs, fundSpec{c.FundName(), treasury.FundDesignated})
	}
	for _, s := range specs {
		if _, err := funds.GetOrCreate(ctx, s.name, s.typ, ""); err != nil {
			return fmt.Errorf("seed fund %s: %w", s.name, err)
		}
	}

	logger.Info("demo data seeded", zap.Int("churches_created", created), zap.Int("funds", len(specs)))
	return nil
}
