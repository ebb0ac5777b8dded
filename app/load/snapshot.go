package load

import (
	"context"
	"fmt"
	"time"

	"github.com/fleximart/retail-etl/app/resolve"
	"github.com/fleximart/retail-etl/models"
)

// WarehouseReader is the read side of the warehouse a snapshot is built from.
type WarehouseReader interface {
	CustomerVersions(ctx context.Context) ([]models.DimCustomer, error)
	ProductVersions(ctx context.Context) ([]models.DimProduct, error)
	DateKeys(ctx context.Context) ([]int, error)
}

// Snapshot reads the stored dimension versions and the seeded calendar. An
// unseeded calendar, or a gap in it, rejects the order dates it misses
// rather than failing the run.
func Snapshot(ctx context.Context, wh WarehouseReader) (resolve.Snapshot, error) {
	keys, err := wh.DateKeys(ctx)
	if err != nil {
		return resolve.Snapshot{}, fmt.Errorf("calendar keys: %w", err)
	}
	snap := resolve.NewSnapshot(resolve.NewCalendar(keys))

	customers, err := wh.CustomerVersions(ctx)
	if err != nil {
		return resolve.Snapshot{}, fmt.Errorf("customer versions: %w", err)
	}
	for _, c := range customers {
		snap.Customers.Add(resolve.Version{
			Key:        c.CustomerKey,
			NaturalKey: c.CustomerID,
			Tracked:    []string{c.City, c.Segment},
			Start:      c.EffectiveStartDate.UTC(),
			End:        utcPtr(c.EffectiveEndDate),
			Current:    c.CurrentFlag,
		})
	}

	products, err := wh.ProductVersions(ctx)
	if err != nil {
		return resolve.Snapshot{}, fmt.Errorf("product versions: %w", err)
	}
	for _, p := range products {
		snap.Products.Add(resolve.Version{
			Key:        p.ProductKey,
			NaturalKey: p.ProductID,
			Tracked:    []string{p.Category, p.PriceTier},
			Start:      p.EffectiveStartDate.UTC(),
			End:        utcPtr(p.EffectiveEndDate),
			Current:    p.CurrentFlag,
		})
	}
	return snap, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
