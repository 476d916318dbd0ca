package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/apperr"
	feeddomain "github.com/observalabs/mirador/internal/feed/domain"
	"github.com/observalabs/mirador/internal/jobqueue"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"gorm.io/datatypes"
)

// handleFeedEmit turns one detected transition into its feed post.
// Replays are tolerated: the feed is append-only and the reader
// dedupes visually by entity; the queue's at-least-once delivery is
// acceptable here.
func (w *Workers) handleFeedEmit(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.DecodePayload[jobqueue.FeedPayload](job)
	if err != nil {
		return apperr.Wrap(apperr.KindSourceSchema, "feed payload malformed", err)
	}
	entityID, err := snowflake.ParseString(payload.EntityID)
	if err != nil {
		return apperr.Wrap(apperr.KindSourceSchema, "malformed entity id", err)
	}

	var refID *snowflake.ID
	if payload.SourceRefID != "" {
		if parsed, perr := snowflake.ParseString(payload.SourceRefID); perr == nil {
			refID = &parsed
		}
	}

	switch payload.EventKind {
	case "BILL_CREATED":
		return w.emitBillCreated(ctx, entityID, refID)
	case "BILL_MOVEMENT":
		return w.emitBillMovement(ctx, entityID, refID)
	case "VOTE_RESULT":
		return w.emitVoteResult(ctx, entityID, refID)
	case "ATTENDANCE_RECORD":
		return w.emitAttendanceRecord(ctx, entityID, refID)
	case "ANALYSIS_READY":
		return w.emitAnalysisReady(ctx, entityID)
	default:
		return apperr.New(apperr.KindSourceSchema, "unknown event kind "+payload.EventKind)
	}
}

func (w *Workers) emitBillCreated(ctx context.Context, billID snowflake.ID, refID *snowflake.ID) error {
	bill, err := w.legisRepo.FindBillByID(ctx, w.db, billID)
	if err != nil || bill == nil {
		return apperr.New(apperr.KindNotFound, "bill missing for feed post")
	}

	names, tags := w.authorNamesAndTags(ctx, bill.ID)
	body := bill.Title
	if len(names) > 0 {
		body = fmt.Sprintf("Presented by %s. %s", strings.Join(names, ", "), bill.Title)
	}

	_, err = w.feed.Publish(ctx, feeddomain.FeedPost{
		Type:        feeddomain.TypeBillCreated,
		Title:       bill.ExternalID,
		Body:        body,
		Payload:     datatypes.JSONMap{"status": string(bill.Status), "period": bill.Period},
		EntityKind:  "bill",
		EntityID:    &bill.ID,
		Tags:        strings.Join(tags, ","),
		SourceRefID: refID,
	})
	return err
}

func (w *Workers) emitBillMovement(ctx context.Context, billID snowflake.ID, refID *snowflake.ID) error {
	bill, err := w.legisRepo.FindBillByID(ctx, w.db, billID)
	if err != nil || bill == nil {
		return apperr.New(apperr.KindNotFound, "bill missing for feed post")
	}
	latest, err := w.legisRepo.LatestMovement(ctx, w.db, bill.ID)
	if err != nil || latest == nil {
		return apperr.New(apperr.KindNotFound, "movement missing for feed post")
	}

	_, tags := w.authorNamesAndTags(ctx, bill.ID)
	_, err = w.feed.Publish(ctx, feeddomain.FeedPost{
		Type:  feeddomain.TypeBillMovement,
		Title: bill.ExternalID + ": " + bill.Title,
		Body:  fmt.Sprintf("%s. Now %s.", latest.Description, bill.Status),
		Payload: datatypes.JSONMap{
			"order_index": latest.OrderIndex,
			"to_status":   string(latest.ToStatus),
		},
		EntityKind:  "bill",
		EntityID:    &bill.ID,
		Tags:        strings.Join(tags, ","),
		SourceRefID: refID,
	})
	return err
}

func (w *Workers) emitVoteResult(ctx context.Context, voteEventID snowflake.ID, refID *snowflake.ID) error {
	var event legisdomain.VoteEvent
	if err := w.db.WithContext(ctx).Where("id = ?", voteEventID).First(&event).Error; err != nil {
		return apperr.New(apperr.KindNotFound, "vote event missing for feed post")
	}

	_, err := w.feed.Publish(ctx, feeddomain.FeedPost{
		Type:  feeddomain.TypeVoteResult,
		Title: event.Title,
		Body: fmt.Sprintf("%d/%d/%d/%d",
			event.Affirmative, event.Negative, event.Abstentions, event.Absent),
		Payload: datatypes.JSONMap{
			"result":      event.Result,
			"affirmative": event.Affirmative,
			"negative":    event.Negative,
			"abstentions": event.Abstentions,
			"absent":      event.Absent,
		},
		EntityKind:  "vote_event",
		EntityID:    &event.ID,
		SourceRefID: refID,
	})
	return err
}

func (w *Workers) emitAttendanceRecord(ctx context.Context, sessionID snowflake.ID, refID *snowflake.ID) error {
	var session legisdomain.Session
	if err := w.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		return apperr.New(apperr.KindNotFound, "session missing for feed post")
	}

	var total, present int64
	if err := w.db.WithContext(ctx).
		Model(&legisdomain.Attendance{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error; err != nil {
		return apperr.Wrap(apperr.KindTransientIO, "attendance tally failed", err)
	}
	if err := w.db.WithContext(ctx).
		Model(&legisdomain.Attendance{}).
		Where("session_id = ? AND status = ?", sessionID, legisdomain.AttendancePresent).
		Count(&present).Error; err != nil {
		return apperr.Wrap(apperr.KindTransientIO, "attendance tally failed", err)
	}
	absent := total - present
	pct := 0.0
	if total > 0 {
		pct = float64(present) / float64(total) * 100
	}

	_, err := w.feed.Publish(ctx, feeddomain.FeedPost{
		Type:  feeddomain.TypeAttendanceRecord,
		Title: "Attendance: " + session.Date.Format("2006-01-02"),
		Body:  fmt.Sprintf("Present %d/%d (%.0f%%). Absent %d", present, total, pct, absent),
		Payload: datatypes.JSONMap{
			"present": present,
			"total":   total,
			"absent":  absent,
		},
		EntityKind:  "session",
		EntityID:    &session.ID,
		SourceRefID: refID,
	})
	return err
}

func (w *Workers) emitAnalysisReady(ctx context.Context, tenantID snowflake.ID) error {
	rows, err := w.analysis.Recent(ctx, tenantID, 4)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientIO, "analysis lookup failed", err)
	}
	if len(rows) == 0 {
		return nil
	}
	latest := rows[0].CreatedAt
	for _, row := range rows {
		if !row.CreatedAt.Equal(latest) {
			continue
		}
		post := feeddomain.FeedPost{
			TenantID:   &row.TenantID,
			Type:       feeddomain.TypeAnalysisReady,
			Title:      string(row.Module),
			Body:       row.Insight,
			EntityKind: "analysis",
			EntityID:   &row.ID,
		}
		if _, err := w.feed.Publish(ctx, post); err != nil {
			return err
		}
	}
	return nil
}

// authorNamesAndTags resolves author display names and the
// block/province tags carried on legislative feed posts.
func (w *Workers) authorNamesAndTags(ctx context.Context, billID snowflake.ID) ([]string, []string) {
	authors, err := w.legisRepo.ListBillAuthors(ctx, w.db, billID)
	if err != nil {
		return nil, nil
	}
	var names []string
	tagSet := make(map[string]bool)
	for _, author := range authors {
		legislator, ferr := w.legisRepo.FindLegislatorByID(ctx, w.db, author.LegislatorID)
		if ferr != nil || legislator == nil {
			continue
		}
		if author.Role == legisdomain.RoleAuthor {
			names = append(names, legislator.FirstName+" "+legislator.LastName)
		}
		tagSet["legislator:"+legislator.ExternalID] = true
		if legislator.Block != "" {
			tagSet["block:"+legislator.Block] = true
		}
		if legislator.Province != "" {
			tagSet["province:"+legislator.Province] = true
		}
	}
	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	return names, tags
}
