package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListLegislatorsFilter struct {
	Block    string
	Province string
	Search   string
	IsActive *bool
}

type ListBillsFilter struct {
	Status   string
	Type     string
	Search   string
	AuthorID snowflake.ID
	Period   int
}

// AttendanceTally is the per-legislator attendance aggregate for one
// period.
type AttendanceTally struct {
	Total   int
	Present int
}

// VoteTally is the per-legislator vote-participation aggregate.
type VoteTally struct {
	Total  int
	Voted  int // vote != ABSENT
}

type Repository interface {
	UpsertLegislator(ctx context.Context, db *gorm.DB, legislator *Legislator) (created bool, err error)
	FindLegislatorByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Legislator, error)
	FindLegislatorByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Legislator, error)
	ListLegislators(ctx context.Context, db *gorm.DB, filter ListLegislatorsFilter, page pagination.Pagination) ([]*Legislator, int64, error)
	ListLegislatorIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)

	UpsertBill(ctx context.Context, db *gorm.DB, bill *Bill) (created bool, previous *Bill, err error)
	UpdateBillStatus(ctx context.Context, db *gorm.DB, billID snowflake.ID, status BillStatus) error
	FindBillByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Bill, error)
	FindBillByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Bill, error)
	ListBills(ctx context.Context, db *gorm.DB, filter ListBillsFilter, page pagination.Pagination) ([]*Bill, int64, error)
	CountBills(ctx context.Context, db *gorm.DB) (int64, error)
	CountLegislators(ctx context.Context, db *gorm.DB) (int64, error)

	AppendMovement(ctx context.Context, db *gorm.DB, movement *BillMovement) error
	CountMovements(ctx context.Context, db *gorm.DB, billID snowflake.ID) (int64, error)
	ListMovements(ctx context.Context, db *gorm.DB, billID snowflake.ID) ([]BillMovement, error)
	LatestMovement(ctx context.Context, db *gorm.DB, billID snowflake.ID) (*BillMovement, error)

	UpsertBillAuthor(ctx context.Context, db *gorm.DB, author *BillAuthor) error
	ListBillAuthors(ctx context.Context, db *gorm.DB, billID snowflake.ID) ([]BillAuthor, error)

	UpsertSession(ctx context.Context, db *gorm.DB, session *Session) error
	FindSessionByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Session, error)

	UpsertVoteEvent(ctx context.Context, db *gorm.DB, event *VoteEvent) (created bool, err error)
	FindVoteEventByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*VoteEvent, error)
	UpsertVoteResult(ctx context.Context, db *gorm.DB, result *VoteResult) error
	CountVoteResults(ctx context.Context, db *gorm.DB, voteEventID snowflake.ID) (int64, error)

	UpsertAttendance(ctx context.Context, db *gorm.DB, attendance *Attendance) (created bool, err error)

	// Metric inputs for one legislator and period (calendar year).
	CountAuthoredBills(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID, role AuthorRole, period int) (int64, error)
	CountAdvancedBills(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID, period int) (int64, error)
	AttendanceTally(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID, period int) (AttendanceTally, error)
	VoteTally(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID, period int) (VoteTally, error)
	CountCommissions(ctx context.Context, db *gorm.DB, legislatorID snowflake.ID) (int64, error)
}
