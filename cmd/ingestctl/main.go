// ingestctl runs one batch ingestion pass from the command line.
//
// Exit codes: 0 success, 1 configuration error, 2 source unavailable,
// 3 partial (some data types failed).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/adapters/ckan"
	"github.com/observalabs/mirador/internal/apperr"
	"github.com/observalabs/mirador/internal/blobstore"
	"github.com/observalabs/mirador/internal/clock"
	commercerepo "github.com/observalabs/mirador/internal/commerce/repository"
	"github.com/observalabs/mirador/internal/config"
	"github.com/observalabs/mirador/internal/ingestion"
	"github.com/observalabs/mirador/internal/jobqueue"
	legisrepo "github.com/observalabs/mirador/internal/legislative/repository"
	"github.com/observalabs/mirador/internal/normalizer"
	obslogger "github.com/observalabs/mirador/internal/observability/logger"
	"github.com/observalabs/mirador/internal/sourceref"
	"github.com/observalabs/mirador/pkg/db"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	exitOK = iota
	exitConfig
	exitSourceUnavailable
	exitPartial
)

func main() {
	os.Exit(run())
}

func run() int {
	types := flag.String("types", strings.Join(ckan.DataTypes(), ","), "comma-separated data types to ingest")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall deadline")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	log, err := obslogger.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer log.Sync()

	genID, err := snowflake.NewNode(2)
	if err != nil {
		log.Error("snowflake init failed", zap.Error(err))
		return exitConfig
	}

	conn, err := db.Open(cfg, log)
	if err != nil {
		log.Error("database unavailable", zap.Error(err))
		return exitConfig
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("redis url malformed", zap.Error(err))
		return exitConfig
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	blobs, err := blobstore.Provide(cfg, log)
	if err != nil {
		log.Error("blob store init failed", zap.Error(err))
		return exitConfig
	}

	clk := clock.NewSystem()
	refs := sourceref.New(sourceref.Params{DB: conn, Log: log, GenID: genID, Clock: clk, Blobs: blobs})
	runs := ingestion.New(ingestion.Params{DB: conn, Log: log, GenID: genID, Clock: clk})
	queue := jobqueue.New(jobqueue.Params{Client: redisClient, Log: log})
	norm := normalizer.New(normalizer.Params{
		DB:        conn,
		Log:       log,
		GenID:     genID,
		Queue:     queue,
		SourceRef: refs,
		Runs:      runs,
		Commerce:  commercerepo.Provide(),
		Legis:     legisrepo.Provide(),
	})
	adapter := ckan.New(log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	requested := strings.Split(*types, ",")
	failed := 0
	unavailable := 0
	for _, dataType := range requested {
		dataType = strings.TrimSpace(dataType)
		if dataType == "" {
			continue
		}
		if err := ingestOne(ctx, log, adapter, refs, runs, norm, dataType); err != nil {
			failed++
			if apperr.KindOf(err) == apperr.KindTransientIO {
				unavailable++
			}
			log.Error("data type failed", zap.String("data_type", dataType), zap.Error(err))
		}
	}

	switch {
	case failed == 0:
		return exitOK
	case unavailable == failed && failed == len(requested):
		return exitSourceUnavailable
	default:
		return exitPartial
	}
}

func ingestOne(
	ctx context.Context,
	log *zap.Logger,
	adapter *ckan.Client,
	refs *sourceref.Service,
	runs *ingestion.Service,
	norm *normalizer.Service,
	dataType string,
) error {
	run, err := runs.Start(ctx, nil, "ckan", dataType)
	if err != nil {
		return err
	}

	raw, err := adapter.Fetch(ctx, dataType)
	if err != nil {
		_ = runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}

	ref, isNew, err := refs.RecordFetch(ctx, sourceref.RecordFetchRequest{
		SourceKey:      adapter.SourceKey(dataType),
		SourceType:     "ckan",
		DataType:       dataType,
		Payload:        raw.Body,
		IngestionRunID: run.ID,
	})
	if err != nil {
		_ = runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}
	if !isNew {
		log.Info("payload unchanged", zap.String("data_type", dataType))
		return runs.Complete(ctx, &run, ingestion.Counters{Skipped: 1})
	}

	result, err := norm.Apply(ctx, dataType, nil, ref.ID, raw.Body)
	if err != nil {
		_ = runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}
	if err := norm.EnqueueFollowUps(ctx, ref.ID, result); err != nil {
		log.Warn("follow-up enqueue failed", zap.Error(err))
	}

	log.Info("data type ingested",
		zap.String("data_type", dataType),
		zap.Int("processed", result.Processed),
		zap.Int("errored", result.Errored),
	)
	return runs.Complete(ctx, &run, ingestion.Counters{
		Processed: result.Processed,
		Errored:   result.Errored,
	})
}
