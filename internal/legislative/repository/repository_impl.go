package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/legislative/domain"
	"github.com/observalabs/mirador/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertLegislator(ctx context.Context, db *gorm.DB, legislator *domain.Legislator) (bool, error) {
	existing, err := r.FindLegislatorByExternalID(ctx, db, legislator.ExternalID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		legislator.ID = existing.ID
		legislator.CreatedAt = existing.CreatedAt
		err = db.WithContext(ctx).Model(&domain.Legislator{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"first_name":    legislator.FirstName,
				"last_name":     legislator.LastName,
				"block":         legislator.Block,
				"province":      legislator.Province,
				"chamber":       legislator.Chamber,
				"active":        legislator.Active,
				"term_start":    legislator.TermStart,
				"term_end":      legislator.TermEnd,
				"source_ref_id": legislator.SourceRefID,
				"updated_at":    legislator.UpdatedAt,
			}).Error
		return false, err
	}
	if err := db.WithContext(ctx).Create(legislator).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) FindLegislatorByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Legislator, error) {
	var legislator domain.Legislator
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&legislator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &legislator, nil
}

func (r *repo) FindLegislatorByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Legislator, error) {
	var legislator domain.Legislator
	err := db.WithContext(ctx).Where("id = ?", id).First(&legislator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &legislator, nil
}

func (r *repo) ListLegislators(ctx context.Context, db *gorm.DB, filter domain.ListLegislatorsFilter, page pagination.Pagination) ([]*domain.Legislator, int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.Legislator{})
	if filter.Block != "" {
		stmt = stmt.Where("block = ?", filter.Block)
	}
	if filter.Province != "" {
		stmt = stmt.Where("province = ?", filter.Province)
	}
	if filter.IsActive != nil {
		stmt = stmt.Where("active = ?", *filter.IsActive)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		stmt = stmt.Where("first_name LIKE ? OR last_name LIKE ?", pattern, pattern)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var legislators []*domain.Legislator
	err := page.Apply(stmt).
		Order("last_name, first_name").
		Find(&legislators).Error
	if err != nil {
		return nil, 0, err
	}
	return legislators, total, nil
}

func (r *repo) ListLegislatorIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Legislator{}).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) UpsertBill(ctx context.Context, db *gorm.DB, bill *domain.Bill) (bool, *domain.Bill, error) {
	existing, err := r.FindBillByExternalID(ctx, db, bill.ExternalID)
	if err != nil {
		return false, nil, err
	}
	if existing != nil {
		bill.ID = existing.ID
		bill.CreatedAt = existing.CreatedAt
		// The normalizer only advances the current status.
		if !existing.Status.Advances(bill.Status) {
			bill.Status = existing.Status
		}
		err = db.WithContext(ctx).Model(&domain.Bill{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"title":          bill.Title,
				"status":         bill.Status,
				"type":           bill.Type,
				"presented_date": bill.PresentedDate,
				"period":         bill.Period,
				"source_ref_id":  bill.SourceRefID,
				"updated_at":     bill.UpdatedAt,
			}).Error
		return false, existing, err
	}
	if err := db.WithContext(ctx).Omit("Movements", "Authors").Create(bill).Error; err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

func (r *repo) UpdateBillStatus(ctx context.Context, db *gorm.DB, billID snowflake.ID, status domain.BillStatus) error {
	return db.WithContext(ctx).
		Model(&domain.Bill{}).
		Where("id = ?", billID).
		UpdateColumn("status", status).Error
}

func (r *repo) FindBillByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Bill, error) {
	var bill domain.Bill
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&bill).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (r *repo) FindBillByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Bill, error) {
	var bill domain.Bill
	err := db.WithContext(ctx).
		Preload("Movements", func(tx *gorm.DB) *gorm.DB { return tx.Order("order_index") }).
		Preload("Authors").
		Where("id = ?", id).
		First(&bill).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (r *repo) ListBills(ctx context.Context, db *gorm.DB, filter domain.ListBillsFilter, page pagination.Pagination) ([]*domain.Bill, int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.Bill{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	if filter.Period != 0 {
		stmt = stmt.Where("period = ?", filter.Period)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		stmt = stmt.Where("title LIKE ? OR external_id LIKE ?", pattern, pattern)
	}
	if filter.AuthorID != 0 {
		stmt = stmt.Where(
			"id IN (?)",
			db.Model(&domain.BillAuthor{}).
				Select("bill_id").
				Where("legislator_id = ?", filter.AuthorID),
		)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var bills []*domain.Bill
	err := page.Apply(stmt).
		Order("presented_date DESC, id DESC").
		Find(&bills).Error
	if err != nil {
		return nil, 0, err
	}
	return bills, total, nil
}

func (r *repo) CountBills(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Bill{}).Count(&count).Error
	return count, err
}

func (r *repo) CountLegislators(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Legislator{}).Count(&count).Error
	return count, err
}

func (r *repo) AppendMovement(ctx context.Context, db *gorm.DB, movement *domain.BillMovement) error {
	return db.WithContext(ctx).Create(movement).Error
}

func (r *repo) CountMovements(ctx context.Context, db *gorm.DB, billID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.BillMovement{}).
		Where("bill_id = ?", billID).
		Count(&count).Error
	return count, err
}

func (r *repo) ListMovements(ctx context.Context, db *gorm.DB, billID snowflake.ID) ([]domain.BillMovement, error) {
	var movements []domain.BillMovement
	err := db.WithContext(ctx).
		Where("bill_id = ?", billID).
		Order("order_index").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

func (r *repo) LatestMovement(ctx context.Context, db *gorm.DB, billID snowflake.ID) (*domain.BillMovement, error) {
	var movement domain.BillMovement
	err := db.WithContext(ctx).
		Where("bill_id = ?", billID).
		Order("order_index DESC").
		First(&movement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (r *repo) UpsertBillAuthor(ctx context.Context, db *gorm.DB, author *domain.BillAuthor) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bill_id"}, {Name: "legislator_id"}, {Name: "role"}},
		DoNothing: true,
	}).Create(author).Error
}

func (r *repo) ListBillAuthors(ctx context.Context, db *gorm.DB, billID snowflake.ID) ([]domain.BillAuthor, error) {
	var authors []domain.BillAuthor
	err := db.WithContext(ctx).
		Where("bill_id = ?", billID).
		Find(&authors).Error
	if err != nil {
		return nil, err
	}
	return authors, nil
}

func (r *repo) UpsertSession(ctx context.Context, db *gorm.DB, session *domain.Session) error {
	existing, err := r.FindSessionByExternalID(ctx, db, session.ExternalID)
	if err != nil {
		return err
	}
	if existing != nil {
		session.ID = existing.ID
		return db.WithContext(ctx).Model(&domain.Session{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"title":         session.Title,
				"chamber":       session.Chamber,
				"date":          session.Date,
				"source_ref_id": session.SourceRefID,
			}).Error
	}
	return db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindSessionByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Session, error) {
	var session domain.Session
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) UpsertVoteEvent(ctx context.Context, db *gorm.DB, event *domain.VoteEvent) (bool, error) {
	existing, err := r.FindVoteEventByExternalID(ctx, db, event.ExternalID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		event.ID = existing.ID
		err = db.WithContext(ctx).Model(&domain.VoteEvent{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"session_id":    event.SessionID,
				"title":         event.Title,
				"date":          event.Date,
				"affirmative":   event.Affirmative,
				"negative":      event.Negative,
				"abstentions":   event.Abstentions,
				"absent":        event.Absent,
				"result":        event.Result,
				"source_ref_id": event.SourceRefID,
			}).Error
		return false, err
	}
	if err := db.WithContext(ctx).Create(event).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) FindVoteEventByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.VoteEvent, error) {
	var event domain.VoteEvent
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repo) UpsertVoteResult(ctx context.Context, db *gorm.DB, result *domain.VoteResult) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vote_event_id"}, {Name: "legislator_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vote"}),
	}).Create(result).Error
}

func (r *repo) CountVoteResults(ctx context.Context, db *gorm.DB, voteEventID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.VoteResult{}).
		Where("vote_event_id = ?", voteEventID).
		Count(&count).Error
	return count, err
}

func (r *repo) UpsertAttendance(ctx context.Context, db *gorm.DB, attendance *domain.Attendance) (bool, error) {
	var existing domain.Attendance
	err := db.WithContext(ctx).
		Where("session_id = ? AND legislator_id = ?", attendance.SessionID, attendance.LegislatorID).
		First(&existing).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return false, err
	}
	if !created {
		attendance.ID = existing.ID
		err = db.WithContext(ctx).Model(&domain.Attendance{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"status":        attendance.Status,
				"source_ref_id": attendance.SourceRefID,
			}).Error
		return false, err
	}
	if err := db.WithContext(ctx).Create(attendance).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) CountAuthoredBills(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID, role domain.AuthorRole, period int) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).
		Model(&domain.BillAuthor{}).
		Joins("JOIN bills ON bills.id = bill_authors.bill_id").
		Where("bill_authors.legislator_id = ? AND bill_authors.role = ?", legislatorID, role)
	if period != 0 {
		stmt = stmt.Where("bills.period = ?", period)
	}
	err := stmt.Count(&count).Error
	return count, err
}

func (r *repo) CountAdvancedBills(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID, period int) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).
		Model(&domain.BillAuthor{}).
		Joins("JOIN bills ON bills.id = bill_authors.bill_id").
		Where("bill_authors.legislator_id = ? AND bill_authors.role = ?", legislatorID, domain.RoleAuthor).
		Where("bills.status <> ?", domain.BillPresented)
	if period != 0 {
		stmt = stmt.Where("bills.period = ?", period)
	}
	err := stmt.Count(&count).Error
	return count, err
}

func (r *repo) AttendanceTally(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID, period int) (domain.AttendanceTally, error) {
	type row struct {
		Status domain.AttendanceStatus
		N      int
	}
	stmt := db.WithContext(ctx).
		Model(&domain.Attendance{}).
		Select("attendances.status AS status, COUNT(*) AS n").
		Joins("JOIN sessions ON sessions.id = attendances.session_id").
		Where("attendances.legislator_id = ?", legislatorID)
	if period != 0 {
		stmt = stmt.Where("sessions.date >= ? AND sessions.date < ?", yearStart(period), yearStart(period+1))
	}
	var rows []row
	if err := stmt.Group("attendances.status").Scan(&rows).Error; err != nil {
		return domain.AttendanceTally{}, err
	}
	var tally domain.AttendanceTally
	for _, item := range rows {
		tally.Total += item.N
		if item.Status == domain.AttendancePresent {
			tally.Present += item.N
		}
	}
	return tally, nil
}

func (r *repo) VoteTally(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID, period int) (domain.VoteTally, error) {
	type row struct {
		Vote domain.Vote
		N    int
	}
	stmt := db.WithContext(ctx).
		Model(&domain.VoteResult{}).
		Select("vote_results.vote AS vote, COUNT(*) AS n").
		Joins("JOIN vote_events ON vote_events.id = vote_results.vote_event_id").
		Where("vote_results.legislator_id = ?", legislatorID)
	if period != 0 {
		stmt = stmt.Where("vote_events.date >= ? AND vote_events.date < ?", yearStart(period), yearStart(period+1))
	}
	var rows []row
	if err := stmt.Group("vote_results.vote").Scan(&rows).Error; err != nil {
		return domain.VoteTally{}, err
	}
	var tally domain.VoteTally
	for _, item := range rows {
		tally.Total += item.N
		if item.Vote != domain.VoteAbsent {
			tally.Voted += item.N
		}
	}
	return tally, nil
}

func (r *repo) CountCommissions(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.CommissionMembership{}).
		Where("legislator_id = ?", legislatorID).
		Count(&count).Error
	return count, err
}

func yearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}
