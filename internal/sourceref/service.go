package sourceref

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/blobstore"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Blobs blobstore.Store
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	blobs blobstore.Store
}

func New(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("sourceref"),
		genID: p.GenID,
		clock: p.Clock,
		blobs: p.Blobs,
	}
}

type RecordFetchRequest struct {
	TenantID       *snowflake.ID
	SourceKey      string
	SourceType     string
	DataType       string
	Payload        []byte
	IngestionRunID snowflake.ID
}

// RecordFetch deduplicates a raw fetch by checksum. When the most
// recent SourceRef for the source key carries the same checksum the
// existing row is returned with isNew=false and nothing is stored;
// otherwise the payload is written to the blob store and a new row is
// appended.
func (s *Service) RecordFetch(ctx context.Context, req RecordFetchRequest) (SourceRef, bool, error) {
	checksum := Checksum(req.Payload)

	var ref SourceRef
	isNew := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.TenantID != nil {
			if err := rls.WithTenant(tx, int64(*req.TenantID)); err != nil {
				return err
			}
		}
		var latest SourceRef
		err := tx.Where("source_key = ?", req.SourceKey).
			Order("fetched_at DESC, id DESC").
			First(&latest).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && latest.Checksum == checksum {
			ref = latest
			return nil
		}

		fetchedAt := s.clock.Now()
		location, perr := s.blobs.Put(ctx, req.DataType, fetchedAt.UnixMilli(), req.Payload)
		if perr != nil {
			return perr
		}

		ref = SourceRef{
			ID:             s.genID.Generate(),
			TenantID:       req.TenantID,
			SourceKey:      req.SourceKey,
			SourceType:     req.SourceType,
			DataType:       req.DataType,
			Checksum:       checksum,
			BlobLocation:   location,
			Status:         StatusStored,
			IngestionRunID: req.IngestionRunID,
			FetchedAt:      fetchedAt,
		}
		if cerr := tx.Create(&ref).Error; cerr != nil {
			return cerr
		}
		isNew = true
		return nil
	})
	if err != nil {
		return SourceRef{}, false, err
	}
	return ref, isNew, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (SourceRef, error) {
	var ref SourceRef
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&ref).Error
	if err != nil {
		return SourceRef{}, err
	}
	return ref, nil
}

// MarkError flags the ref after a structural parse failure. The blob
// stays for replay.
func (s *Service) MarkError(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).
		Model(&SourceRef{}).
		Where("id = ?", id).
		UpdateColumn("status", StatusError).Error
}

// ReadBlob returns the verbatim bytes of the stored payload.
func (s *Service) ReadBlob(ctx context.Context, ref SourceRef) ([]byte, error) {
	return s.blobs.Get(ctx, ref.BlobLocation)
}

var Module = fx.Module("sourceref",
	fx.Provide(New),
)
