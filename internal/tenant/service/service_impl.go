package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/tenant/domain"
	"github.com/observalabs/mirador/pkg/db"
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
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) EnsureFromIdentity(ctx context.Context, req domain.IdentityRequest) (domain.Tenant, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.Tenant{}, domain.ErrInvalidEmail
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.Tenant{}, err
	}
	if existing != nil {
		changed := false
		if name := strings.TrimSpace(req.Name); name != "" && name != existing.Name {
			existing.Name = name
			changed = true
		}
		if req.Picture != "" && req.Picture != existing.Picture {
			existing.Picture = req.Picture
			changed = true
		}
		if changed {
			existing.UpdatedAt = s.clock.Now()
			if err := s.repo.Update(ctx, s.db, existing); err != nil {
				return domain.Tenant{}, err
			}
		}
		return *existing, nil
	}

	now := s.clock.Now()
	tenant := domain.Tenant{
		ID:        s.genID.Generate(),
		Email:     email,
		Name:      strings.TrimSpace(req.Name),
		Picture:   req.Picture,
		Plan:      domain.PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &tenant); err != nil {
		// Two concurrent first handshakes race on the email key;
		// the loser reads the winner's row.
		if db.IsDuplicateKeyErr(err) {
			winner, ferr := s.repo.FindByEmail(ctx, s.db, email)
			if ferr == nil && winner != nil {
				return *winner, nil
			}
		}
		return domain.Tenant{}, err
	}
	s.log.Info("tenant created", zap.String("tenant_id", tenant.ID.String()))
	return tenant, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return domain.Tenant{}, domain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return domain.Tenant{}, err
	}
	if item == nil {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (domain.Tenant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Tenant{}, domain.ErrInvalidEmail
	}
	item, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.Tenant{}, err
	}
	if item == nil {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ResolveSoftMatch(ctx context.Context) (domain.Tenant, error) {
	item, err := s.repo.FindNewestOnHighestPlan(ctx, s.db)
	if err != nil {
		return domain.Tenant{}, err
	}
	if item == nil {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) RecordSolve(ctx context.Context, id string) error {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return domain.ErrInvalidID
	}
	return s.repo.IncrementSolveCount(ctx, s.db, parsed)
}
