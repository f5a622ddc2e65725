package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
	"gomarket_pricewatch/internal/storage"
	"gomarket_pricewatch/metrics"
	"gomarket_pricewatch/pkg/logger"
)

// run - состояние одного прогона. Товары обрабатываются последовательно.
type run struct {
	o        *Orchestrator
	adapter  services.SourceAdapter
	job      *models.ScrapeJob
	log      logger.Logger
	counters metrics.RunCounters
	seen     map[string]struct{}
}

func (r *run) source() models.Source {
	return r.job.Source
}

func (r *run) execute(ctx context.Context) error {
	if paced, ok := r.adapter.(services.Paced); ok && paced.Jitter() != nil {
		if err := paced.Jitter().WaitSessionStart(ctx); err != nil {
			return err
		}
	}
	if err := r.ensureAuthenticated(ctx); err != nil {
		return err
	}

	switch r.job.JobType {
	case models.JobTypeFull, models.JobTypeIncremental:
		return r.full(ctx)
	case models.JobTypeCategories:
		_, err := r.syncCategories(ctx)
		if err != nil {
			return err
		}
		return r.syncBrands(ctx)
	case models.JobTypeOffers:
		return r.offers(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownJobType, r.job.JobType)
}

func (r *run) ensureAuthenticated(ctx context.Context) error {
	ok, err := r.adapter.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		return &clients.AuthenticationError{Message: fmt.Sprintf("authentication with %s failed", r.source())}
	}
	return nil
}

// full: категории и бренды, затем товары. Источник с постраничным каталогом
// отдает его целиком, остальные опрашиваются по категориям.
func (r *run) full(ctx context.Context) error {
	categories, err := r.syncCategories(ctx)
	if err != nil {
		return err
	}
	if err := r.syncBrands(ctx); err != nil {
		return err
	}

	if catalog, ok := r.adapter.(services.CatalogFetcher); ok {
		products, err := catalog.FetchAllProducts(ctx)
		if err != nil {
			return err
		}
		return r.processAll(ctx, products)
	}

	for i, category := range categories {
		if i > 0 {
			if err := r.pause(ctx); err != nil {
				return err
			}
		}
		products, err := r.adapter.FetchProducts(ctx, category)
		if err != nil {
			return err
		}
		if err := r.processAll(ctx, products); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) offers(ctx context.Context) error {
	fetcher, ok := r.adapter.(services.OfferFetcher)
	if !ok {
		return fmt.Errorf("%w: %s", ErrOffersUnsupported, r.source())
	}
	products, err := fetcher.FetchOffers(ctx)
	if err != nil {
		return err
	}
	if err := r.processAll(ctx, products); err != nil {
		return err
	}

	best, ok := r.adapter.(services.BestSellerFetcher)
	if !ok {
		return nil
	}
	if err := r.pause(ctx); err != nil {
		return err
	}
	products, err = best.FetchBestSellers(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.itemError("best sellers", err)
		return nil
	}
	return r.processAll(ctx, products)
}

func (r *run) pause(ctx context.Context) error {
	if paced, ok := r.adapter.(services.Paced); ok && paced.Jitter() != nil {
		return paced.Jitter().WaitPage(ctx)
	}
	return ctx.Err()
}

// syncCategories upserts categories and returns their external ids in source order.
func (r *run) syncCategories(ctx context.Context) ([]string, error) {
	raws, err := r.adapter.FetchCategories(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		if err := r.checkCancelled(ctx); err != nil {
			return nil, err
		}
		category, err := r.adapter.ParseCategory(raw)
		if err != nil {
			r.log.Warn("skip category: %v", err)
			continue
		}
		if _, _, err := r.o.store.UpsertCategory(ctx, category); err != nil {
			r.log.Error("failed to store category %s: %v", category.ExternalID, err)
			continue
		}
		ids = append(ids, category.ExternalID)
	}
	r.log.Log("synced %d/%d categories", len(ids), len(raws))
	return ids, nil
}

func (r *run) syncBrands(ctx context.Context) error {
	fetcher, ok := r.adapter.(services.BrandFetcher)
	if !ok {
		return nil
	}
	raws, err := fetcher.FetchBrands(ctx)
	if err != nil {
		return err
	}
	stored := 0
	for _, raw := range raws {
		brand, err := fetcher.ParseBrand(raw)
		if err != nil {
			r.log.Warn("skip brand: %v", err)
			continue
		}
		if _, _, err := r.o.store.UpsertBrand(ctx, brand); err != nil {
			r.log.Error("failed to store brand %s: %v", brand.ExternalID, err)
			continue
		}
		stored++
	}
	r.log.Log("synced %d/%d brands", stored, len(raws))
	return nil
}

func (r *run) processAll(ctx context.Context, raws []services.RawRecord) error {
	for _, raw := range raws {
		if err := r.processItem(ctx, raw); err != nil {
			return err
		}
	}
	return nil
}

// processItem returns an error only when the run has to stop; item failures are counted.
func (r *run) processItem(ctx context.Context, raw services.RawRecord) error {
	parsed, err := r.adapter.ParseProduct(raw)
	if err != nil {
		r.itemError("parse", err)
		return nil
	}
	id := parsed.Product.ExternalID
	if _, dup := r.seen[id]; dup {
		return nil
	}
	r.seen[id] = struct{}{}

	if err := r.checkCancelled(ctx); err != nil {
		return err
	}

	isNew, err := r.persist(ctx, parsed)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.itemError(id, err)
		return nil
	}

	r.counters.Scraped.Add(1)
	if isNew {
		r.counters.New.Add(1)
		metrics.RecordItem(string(r.source()), "new")
	} else {
		r.counters.Updated.Add(1)
		metrics.RecordItem(string(r.source()), "updated")
	}

	if every := r.o.ProgressEvery; every > 0 && int(r.counters.Scraped.Load())%every == 0 {
		return r.flushProgress(ctx)
	}
	return nil
}

func (r *run) persist(ctx context.Context, parsed *services.ParsedProduct) (bool, error) {
	product := parsed.Product
	product.Source = r.source()
	stored, isNew, err := r.o.store.UpsertProduct(ctx, &product)
	if err != nil {
		return false, fmt.Errorf("upsert product: %w", err)
	}

	if parsed.Observation != nil {
		if err := r.recordPrice(ctx, stored.ID, nil, *parsed.Observation); err != nil {
			return isNew, err
		}
	}
	for _, pu := range parsed.Units {
		unit := pu.Unit
		unit.ProductID = stored.ID
		storedUnit, _, err := r.o.store.UpsertUnit(ctx, &unit)
		if err != nil {
			return isNew, fmt.Errorf("upsert unit %s: %w", unit.ExternalID, err)
		}
		if pu.Observation == nil {
			continue
		}
		unitID := storedUnit.ID
		if err := r.recordPrice(ctx, stored.ID, &unitID, *pu.Observation); err != nil {
			return isNew, err
		}
	}
	return isNew, nil
}

func (r *run) recordPrice(ctx context.Context, productID int64, unitID *int64, obs models.PriceObservation) error {
	jobID := r.job.ID
	rec, err := r.o.store.AppendPriceIfChanged(ctx, productID, unitID, r.source(), obs, &jobID)
	if err != nil {
		return fmt.Errorf("append price: %w", err)
	}
	if rec != nil {
		r.counters.Prices.Add(1)
		metrics.RecordPriceAppended(string(r.source()))
	}
	return nil
}

func (r *run) itemError(id string, err error) {
	r.counters.Errors.Add(1)
	metrics.RecordItem(string(r.source()), "error")
	r.log.Warn("item %s: %v", id, err)
}

// checkCancelled перечитывает статус задачи: отмена через Cancel видна до записи следующего товара.
func (r *run) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := r.o.store.GetJob(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if job == nil || job.Status != models.JobStatusRunning {
		return errCancelled
	}
	return nil
}

func (r *run) flushProgress(ctx context.Context) error {
	snap := r.counters.Snapshot()
	err := r.o.store.UpdateJobProgress(ctx, r.job.ID, storage.JobUpdate{
		At:       r.o.clock.Now(),
		Counters: &storage.JobCounters{Scraped: snap.Scraped, New: snap.New, Updated: snap.Updated, Errors: snap.Errors},
	})
	if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
		return errCancelled
	}
	return err
}
