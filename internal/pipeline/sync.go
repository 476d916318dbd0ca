package pipeline

import (
	"context"

	"github.com/observalabs/mirador/internal/adapters/shopify"
	"github.com/observalabs/mirador/internal/apperr"
	connectiondomain "github.com/observalabs/mirador/internal/connection/domain"
	"github.com/observalabs/mirador/internal/ingestion"
	"github.com/observalabs/mirador/internal/sourceref"
	"go.uber.org/zap"
)

// SyncOutcome reports what one inline sync pulled in.
type SyncOutcome struct {
	Products  int `json:"products"`
	Orders    int `json:"orders"`
	Inventory int `json:"inventory"`
	Skipped   int `json:"-"`
}

// SyncConnection runs the inline critical section shared by the OAuth
// callback and POST /sync: fetch every data type, dedupe by checksum,
// upsert synchronously and close one ingestion run covering the whole
// pass. Failure leaves the connection in status error; background
// follow-ups still go through the queues.
func (w *Workers) SyncConnection(ctx context.Context, conn connectiondomain.Connection) (SyncOutcome, error) {
	if err := w.connections.MarkSyncing(ctx, conn.ID); err != nil {
		return SyncOutcome{}, err
	}

	tenantID := conn.TenantID
	run, err := w.runs.Start(ctx, &tenantID, "shopify", "shopify_full")
	if err != nil {
		return SyncOutcome{}, apperr.Wrap(apperr.KindTransientIO, "run open failed", err)
	}

	var outcome SyncOutcome
	var counters ingestion.Counters

	for _, dataType := range shopify.DataTypes() {
		raw, ferr := w.shopify.Fetch(ctx, conn.ShopDomain, conn.AccessToken, dataType)
		if ferr != nil {
			w.failSync(ctx, conn, &run, counters, ferr)
			return SyncOutcome{}, ferr
		}

		ref, isNew, rerr := w.sourceRefs.RecordFetch(ctx, sourceref.RecordFetchRequest{
			TenantID:       &tenantID,
			SourceKey:      "shopify:" + conn.ShopDomain + ":" + dataType,
			SourceType:     "shopify",
			DataType:       dataType,
			Payload:        raw.Body,
			IngestionRunID: run.ID,
		})
		if rerr != nil {
			w.failSync(ctx, conn, &run, counters, rerr)
			return SyncOutcome{}, rerr
		}
		if !isNew {
			counters.Skipped++
			outcome.Skipped++
			continue
		}

		result, aerr := w.normalizer.Apply(ctx, dataType, &tenantID, ref.ID, raw.Body)
		if aerr != nil {
			w.failSync(ctx, conn, &run, counters, aerr)
			return SyncOutcome{}, aerr
		}
		counters.Processed += result.Processed
		counters.Errored += result.Errored

		switch dataType {
		case shopify.DataTypeProducts:
			outcome.Products = result.Processed
		case shopify.DataTypeOrders:
			outcome.Orders = result.Processed
		case shopify.DataTypeInventory:
			outcome.Inventory = result.Processed
		}

		if err := w.normalizer.EnqueueFollowUps(ctx, ref.ID, result); err != nil {
			w.log.Warn("follow-up enqueue failed", zap.Error(err))
		}
	}

	if err := w.runs.Complete(ctx, &run, counters); err != nil {
		return SyncOutcome{}, err
	}
	if err := w.connections.MarkSynced(ctx, conn.ID, connectiondomain.SyncCounts{
		Products:  outcome.Products,
		Orders:    outcome.Orders,
		Inventory: outcome.Inventory,
	}); err != nil {
		return SyncOutcome{}, err
	}

	w.log.Info("inline sync completed",
		zap.String("shop", conn.ShopDomain),
		zap.Int("products", outcome.Products),
		zap.Int("orders", outcome.Orders),
	)
	return outcome, nil
}

func (w *Workers) failSync(ctx context.Context, conn connectiondomain.Connection, run *ingestion.Run, counters ingestion.Counters, cause error) {
	if err := w.runs.Fail(ctx, run, counters, cause); err != nil {
		w.log.Error("closing failed run", zap.Error(err))
	}
	if err := w.connections.MarkError(ctx, conn.ID, cause.Error()); err != nil {
		w.log.Error("marking connection error", zap.Error(err))
	}
}
