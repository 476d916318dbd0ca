package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Legislative rows are tenant-global: the public-sector datasets are
// shared by every tenant and upsert on external_id alone.

type Legislator struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID string       `gorm:"not null;uniqueIndex" json:"external_id"`

	FirstName string     `gorm:"not null" json:"first_name"`
	LastName  string     `gorm:"not null" json:"last_name"`
	Block     string     `gorm:"index" json:"block,omitempty"`
	Province  string     `gorm:"index" json:"province,omitempty"`
	Chamber   string     `json:"chamber,omitempty"`
	Active    bool       `gorm:"not null;default:true" json:"active"`
	TermStart *time.Time `json:"term_start,omitempty"`
	TermEnd   *time.Time `json:"term_end,omitempty"`

	SourceRefID snowflake.ID `gorm:"not null;index" json:"source_ref_id"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

type BillStatus string

const (
	BillPresented         BillStatus = "PRESENTED"
	BillInCommittee       BillStatus = "IN_COMMITTEE"
	BillWithOpinion       BillStatus = "WITH_OPINION"
	BillApprovedCommittee BillStatus = "APPROVED_COMMITTEE"
	BillFloorVote         BillStatus = "FLOOR_VOTE"
	BillApprovedChamber   BillStatus = "APPROVED_CHAMBER"
	BillSentToOther       BillStatus = "SENT_TO_OTHER_CHAMBER"
	BillApproved          BillStatus = "APPROVED"

	BillRejected  BillStatus = "REJECTED"
	BillWithdrawn BillStatus = "WITHDRAWN"
	BillExpired   BillStatus = "EXPIRED"
	BillArchived  BillStatus = "ARCHIVED"
)

var billStatusRank = map[BillStatus]int{
	BillPresented:         0,
	BillInCommittee:       1,
	BillWithOpinion:       2,
	BillApprovedCommittee: 3,
	BillFloorVote:         4,
	BillApprovedChamber:   5,
	BillSentToOther:       6,
	BillApproved:          7,
}

func (s BillStatus) Terminal() bool {
	switch s {
	case BillRejected, BillWithdrawn, BillExpired, BillArchived:
		return true
	}
	return false
}

// Advances reports whether moving from s to next moves the bill
// forward. The normalizer only advances: an earlier to_status is
// recorded in history but does not update the bill.
func (s BillStatus) Advances(next BillStatus) bool {
	if s.Terminal() {
		return false
	}
	if next.Terminal() {
		return true
	}
	fromRank, fromOK := billStatusRank[s]
	toRank, toOK := billStatusRank[next]
	if !fromOK || !toOK {
		return false
	}
	return toRank > fromRank
}

type Bill struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID string       `gorm:"not null;uniqueIndex" json:"external_id"`

	Title         string     `gorm:"not null" json:"title"`
	Status        BillStatus `gorm:"not null;default:PRESENTED;index" json:"status"`
	Type          string     `gorm:"index" json:"type,omitempty"`
	PresentedDate *time.Time `json:"presented_date,omitempty"`
	Period        int        `gorm:"not null;index" json:"period"`

	Movements []BillMovement `gorm:"foreignKey:BillID" json:"movements,omitempty"`
	Authors   []BillAuthor   `gorm:"foreignKey:BillID" json:"authors,omitempty"`

	SourceRefID snowflake.ID `gorm:"not null;index" json:"source_ref_id"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// BillMovement is append-only; order_index is contiguous from 0 per
// bill and dense in insertion order, and is the only total order
// exposed to consumers.
type BillMovement struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	BillID snowflake.ID `gorm:"not null;uniqueIndex:idx_bill_movements_order" json:"bill_id"`

	OrderIndex  int        `gorm:"not null;uniqueIndex:idx_bill_movements_order" json:"order_index"`
	Description string     `gorm:"not null" json:"description"`
	FromStatus  BillStatus `json:"from_status,omitempty"`
	ToStatus    BillStatus `gorm:"not null" json:"to_status"`
	Date        time.Time  `gorm:"not null" json:"date"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

type AuthorRole string

const (
	RoleAuthor   AuthorRole = "AUTHOR"
	RoleCoauthor AuthorRole = "COAUTHOR"
)

type BillAuthor struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	BillID       snowflake.ID `gorm:"not null;uniqueIndex:idx_bill_authors_pair" json:"bill_id"`
	LegislatorID snowflake.ID `gorm:"not null;uniqueIndex:idx_bill_authors_pair;index" json:"legislator_id"`
	Role         AuthorRole   `gorm:"not null;uniqueIndex:idx_bill_authors_pair" json:"role"`
}

type Session struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID string       `gorm:"not null;uniqueIndex" json:"external_id"`

	Title   string    `json:"title,omitempty"`
	Chamber string    `json:"chamber,omitempty"`
	Date    time.Time `gorm:"not null;index" json:"date"`

	SourceRefID snowflake.ID `gorm:"not null;index" json:"source_ref_id"`
}

// VoteEvent tallies are overwritten from the payload, not recomputed
// locally; the authoritative source is the feed.
type VoteEvent struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	ExternalID string        `gorm:"not null;uniqueIndex" json:"external_id"`
	SessionID  *snowflake.ID `gorm:"index" json:"session_id,omitempty"`

	Title       string    `gorm:"not null" json:"title"`
	Date        time.Time `gorm:"not null" json:"date"`
	Affirmative int       `gorm:"not null;default:0" json:"affirmative"`
	Negative    int       `gorm:"not null;default:0" json:"negative"`
	Abstentions int       `gorm:"not null;default:0" json:"abstentions"`
	Absent      int       `gorm:"not null;default:0" json:"absent"`
	Result      string    `json:"result,omitempty"`

	SourceRefID snowflake.ID `gorm:"not null;index" json:"source_ref_id"`
}

type Vote string

const (
	VoteAffirmative Vote = "AFFIRMATIVE"
	VoteNegative    Vote = "NEGATIVE"
	VoteAbstention  Vote = "ABSTENTION"
	VoteAbsent      Vote = "ABSENT"
)

type VoteResult struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	VoteEventID  snowflake.ID `gorm:"not null;uniqueIndex:idx_vote_results_pair" json:"vote_event_id"`
	LegislatorID snowflake.ID `gorm:"not null;uniqueIndex:idx_vote_results_pair;index" json:"legislator_id"`
	Vote         Vote         `gorm:"not null" json:"vote"`
}

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceLicense AttendanceStatus = "LICENSE"
)

type Attendance struct {
	ID           snowflake.ID     `gorm:"primaryKey" json:"id"`
	SessionID    snowflake.ID     `gorm:"not null;uniqueIndex:idx_attendances_pair" json:"session_id"`
	LegislatorID snowflake.ID     `gorm:"not null;uniqueIndex:idx_attendances_pair;index" json:"legislator_id"`
	Status       AttendanceStatus `gorm:"not null" json:"status"`

	SourceRefID snowflake.ID `gorm:"not null;index" json:"source_ref_id"`
}

// Commission names are seeded; memberships are not seeded and no
// adapter ingests them.
type Commission struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID string       `gorm:"not null;uniqueIndex" json:"external_id"`
	Name       string       `gorm:"not null" json:"name"`
	Chamber    string       `json:"chamber,omitempty"`
}

type CommissionMembership struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	CommissionID snowflake.ID `gorm:"not null;uniqueIndex:idx_commission_members_pair" json:"commission_id"`
	LegislatorID snowflake.ID `gorm:"not null;uniqueIndex:idx_commission_members_pair;index" json:"legislator_id"`
	Role         string       `json:"role,omitempty"`
}
