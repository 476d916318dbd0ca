package normalizer

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/adapters/ckan"
	"github.com/observalabs/mirador/internal/apperr"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
)

// CKAN datastore payloads arrive wrapped in the standard action
// envelope.

type ckanEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

type ckanRecords[T any] struct {
	Records []T `json:"records"`
}

type legislatorRecord struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Block     string `json:"block"`
	Province  string `json:"province"`
	Chamber   string `json:"chamber"`
	Active    bool   `json:"active"`
	TermStart string `json:"term_start"`
	TermEnd   string `json:"term_end"`
}

type billAuthorRecord struct {
	LegislatorID string `json:"legislator_id"`
	Role         string `json:"role"`
}

type billRecord struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Status        string             `json:"status"`
	Type          string             `json:"type"`
	PresentedDate string             `json:"presented_date"`
	Period        int                `json:"period"`
	Authors       []billAuthorRecord `json:"authors"`
}

type movementRecord struct {
	BillID      string `json:"bill_id"`
	Description string `json:"description"`
	FromStatus  string `json:"from_status"`
	ToStatus    string `json:"to_status"`
	Date        string `json:"date"`
}

type voteRecord struct {
	LegislatorID string `json:"legislator_id"`
	Vote         string `json:"vote"`
}

type voteEventRecord struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Title       string       `json:"title"`
	Date        string       `json:"date"`
	Result      string       `json:"result"`
	Affirmative int          `json:"affirmative"`
	Negative    int          `json:"negative"`
	Abstentions int          `json:"abstentions"`
	Absent      int          `json:"absent"`
	Votes       []voteRecord `json:"votes"`
}

type sessionRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Chamber string `json:"chamber"`
	Date    string `json:"date"`
}

func (s *Service) applyLegislative(ctx context.Context, dataType string, refID snowflake.ID, body []byte) (*Result, error) {
	switch dataType {
	case ckan.DataTypeLegislators:
		return s.applyLegislators(ctx, refID, body)
	case ckan.DataTypeBills:
		return s.applyBills(ctx, refID, body)
	case ckan.DataTypeMovements:
		return s.applyMovements(ctx, refID, body)
	case ckan.DataTypeVotes:
		return s.applyVotes(ctx, refID, body)
	case ckan.DataTypeAttendance:
		return s.applyAttendance(ctx, refID, body)
	case ckan.DataTypeSessions:
		return s.applySessions(ctx, refID, body)
	default:
		return nil, apperr.New(apperr.KindSourceSchema, "unknown legislative data type "+dataType)
	}
}

func decodeRecords[T any](body []byte) ([]T, error) {
	var envelope ckanEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, apperr.Wrap(apperr.KindSourceSchema, "payload is not a CKAN envelope", err)
	}
	if !envelope.Success || envelope.Result == nil {
		return nil, apperr.New(apperr.KindSourceSchema, "CKAN envelope reports failure")
	}
	var wrapper ckanRecords[T]
	if err := json.Unmarshal(envelope.Result, &wrapper); err != nil {
		return nil, apperr.Wrap(apperr.KindSourceSchema, "CKAN records malformed", err)
	}
	if wrapper.Records == nil {
		return nil, apperr.New(apperr.KindSourceSchema, "CKAN result missing records")
	}
	return wrapper.Records, nil
}

func (s *Service) applyLegislators(ctx context.Context, refID snowflake.ID, body []byte) (*Result, error) {
	records, err := decodeRecords[legislatorRecord](body)
	if err != nil {
		return nil, err
	}

	result := newResult()
	now := time.Now().UTC()
	for _, raw := range records {
		if raw.ID == "" || raw.LastName == "" {
			result.Errored++
			continue
		}
		legislator := legisdomain.Legislator{
			ID:          s.genID.Generate(),
			ExternalID:  raw.ID,
			FirstName:   raw.FirstName,
			LastName:    raw.LastName,
			Block:       raw.Block,
			Province:    raw.Province,
			Chamber:     raw.Chamber,
			Active:      raw.Active,
			TermStart:   parseDate(raw.TermStart),
			TermEnd:     parseDate(raw.TermEnd),
			SourceRefID: refID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := s.legis.UpsertLegislator(ctx, s.db, &legislator); err != nil {
			result.Errored++
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (s *Service) applyBills(ctx context.Context, refID snowflake.ID, body []byte) (*Result, error) {
	records, err := decodeRecords[billRecord](body)
	if err != nil {
		return nil, err
	}

	result := newResult()
	now := time.Now().UTC()
	for _, raw := range records {
		if raw.ID == "" || raw.Title == "" {
			result.Errored++
			continue
		}
		status := legisdomain.BillStatus(raw.Status)
		if status == "" {
			status = legisdomain.BillPresented
		}
		period := raw.Period
		if period == 0 {
			if presented := parseDate(raw.PresentedDate); presented != nil {
				period = presented.Year()
			}
		}
		bill := legisdomain.Bill{
			ID:            s.genID.Generate(),
			ExternalID:    raw.ID,
			Title:         raw.Title,
			Status:        status,
			Type:          raw.Type,
			PresentedDate: parseDate(raw.PresentedDate),
			Period:        period,
			SourceRefID:   refID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		created, _, err := s.legis.UpsertBill(ctx, s.db, &bill)
		if err != nil {
			result.Errored++
			continue
		}
		result.Processed++

		for _, authorRaw := range raw.Authors {
			legislator, ferr := s.legis.FindLegislatorByExternalID(ctx, s.db, authorRaw.LegislatorID)
			if ferr != nil {
				result.Errored++
				continue
			}
			if legislator == nil {
				// The missing legislator is expected in a later
				// sync.
				result.Errored++
				continue
			}
			role := legisdomain.AuthorRole(authorRaw.Role)
			if role != legisdomain.RoleAuthor && role != legisdomain.RoleCoauthor {
				role = legisdomain.RoleCoauthor
			}
			author := legisdomain.BillAuthor{
				ID:           s.genID.Generate(),
				BillID:       bill.ID,
				LegislatorID: legislator.ID,
				Role:         role,
			}
			if err := s.legis.UpsertBillAuthor(ctx, s.db, &author); err != nil {
				result.Errored++
				continue
			}
			result.touch(RecomputeKey{Kind: "legislator", EntityID: legislator.ID, Period: bill.Period})
		}

		if created {
			result.emit(Event{Kind: "BILL_CREATED", EntityID: bill.ID})
		}
	}
	return result, nil
}

func (s *Service) applyMovements(ctx context.Context, refID snowflake.ID, body []byte) (*Result, error) {
	records, err := decodeRecords[movementRecord](body)
	if err != nil {
		return nil, err
	}

	result := newResult()
	for _, raw := range records {
		if raw.BillID == "" || raw.Description == "" || raw.ToStatus == "" {
			result.Errored++
			continue
		}
		bill, ferr := s.legis.FindBillByExternalID(ctx, s.db, raw.BillID)
		if ferr != nil {
			result.Errored++
			continue
		}
		if bill == nil {
			result.Errored++
			continue
		}

		date := parseDate(raw.Date)
		if date == nil {
			result.Errored++
			continue
		}

		history, herr := s.legis.ListMovements(ctx, s.db, bill.ID)
		if herr != nil {
			result.Errored++
			continue
		}
		if movementSeen(history, raw, *date) {
			// Replays deliver the full movement history; only the
			// genuinely new tail is appended.
			continue
		}
		var latest *legisdomain.BillMovement
		if len(history) > 0 {
			latest = &history[len(history)-1]
		}
		count := int64(len(history))

		// Dates are non-decreasing along order_index; a straggler is
		// clamped to the latest recorded date.
		movementDate := *date
		if latest != nil && movementDate.Before(latest.Date) {
			movementDate = latest.Date
		}

		movement := legisdomain.BillMovement{
			ID:          s.genID.Generate(),
			BillID:      bill.ID,
			OrderIndex:  int(count),
			Description: raw.Description,
			FromStatus:  legisdomain.BillStatus(raw.FromStatus),
			ToStatus:    legisdomain.BillStatus(raw.ToStatus),
			Date:        movementDate,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.legis.AppendMovement(ctx, s.db, &movement); err != nil {
			result.Errored++
			continue
		}
		result.Processed++

		// The normalizer only advances the bill status; an earlier
		// to_status stays in history.
		if bill.Status.Advances(movement.ToStatus) {
			if err := s.legis.UpdateBillStatus(ctx, s.db, bill.ID, movement.ToStatus); err != nil {
				result.Errored++
				continue
			}
		}

		result.emit(Event{Kind: "BILL_MOVEMENT", EntityID: bill.ID})
		authors, aerr := s.legis.ListBillAuthors(ctx, s.db, bill.ID)
		if aerr == nil {
			for _, author := range authors {
				result.touch(RecomputeKey{Kind: "legislator", EntityID: author.LegislatorID, Period: bill.Period})
			}
		}
	}
	return result, nil
}

func (s *Service) applyVotes(ctx context.Context, refID snowflake.ID, body []byte) (*Result, error) {
	records, err := decodeRecords[voteEventRecord](body)
	if err != nil {
		return nil, err
	}

	result := newResult()
	for _, raw := range records {
		if raw.ID == "" || raw.Title == "" {
			result.Errored++
			continue
		}
		date := parseDate(raw.Date)
		if date == nil {
			result.Errored++
			continue
		}

		var sessionID *snowflake.ID
		if raw.SessionID != "" {
			session, serr := s.legis.FindSessionByExternalID(ctx, s.db, raw.SessionID)
			if serr == nil && session != nil {
				sessionID = &session.ID
			}
		}

		// Tallies come from the payload; the feed is authoritative.
		event := legisdomain.VoteEvent{
			ID:          s.genID.Generate(),
			ExternalID:  raw.ID,
			SessionID:   sessionID,
			Title:       raw.Title,
			Date:        *date,
			Affirmative: raw.Affirmative,
			Negative:    raw.Negative,
			Abstentions: raw.Abstentions,
			Absent:      raw.Absent,
			Result:      raw.Result,
			SourceRefID: refID,
		}
		created, uerr := s.legis.UpsertVoteEvent(ctx, s.db, &event)
		if uerr != nil {
			result.Errored++
			continue
		}
		result.Processed++

		for _, voteRaw := range raw.Votes {
			legislator, ferr := s.legis.FindLegislatorByExternalID(ctx, s.db, voteRaw.LegislatorID)
			if ferr != nil || legislator == nil {
				result.Errored++
				continue
			}
			voteResult := legisdomain.VoteResult{
				ID:           s.genID.Generate(),
				VoteEventID:  event.ID,
				LegislatorID: legislator.ID,
				Vote:         mapVote(voteRaw.Vote),
			}
			if err := s.legis.UpsertVoteResult(ctx, s.db, &voteResult); err != nil {
				result.Errored++
				continue
			}
			result.touch(RecomputeKey{Kind: "legislator", EntityID: legislator.ID, Period: date.Year()})
		}

		if created {
			result.emit(Event{Kind: "VOTE_RESULT", EntityID: event.ID})
		}
	}
	return result, nil
}

func (s *Service) applyAttendance(ctx context.Context, refID snowflake.ID, body []byte) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	header, err := reader.Read()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSourceSchema, "attendance csv unreadable", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"session_id", "legislator_id", "status"} {
		if _, ok := col[required]; !ok {
			return nil, apperr.New(apperr.KindSourceSchema, "attendance csv missing column "+required)
		}
	}

	result := newResult()
	touchedSessions := make(map[snowflake.ID]bool)
	for {
		row, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, apperr.Wrap(apperr.KindSourceSchema, "attendance csv malformed row", rerr)
		}

		session, serr := s.legis.FindSessionByExternalID(ctx, s.db, row[col["session_id"]])
		if serr != nil || session == nil {
			result.Errored++
			continue
		}
		legislator, ferr := s.legis.FindLegislatorByExternalID(ctx, s.db, row[col["legislator_id"]])
		if ferr != nil || legislator == nil {
			result.Errored++
			continue
		}

		attendance := legisdomain.Attendance{
			ID:           s.genID.Generate(),
			SessionID:    session.ID,
			LegislatorID: legislator.ID,
			Status:       mapAttendance(row[col["status"]]),
			SourceRefID:  refID,
		}
		created, uerr := s.legis.UpsertAttendance(ctx, s.db, &attendance)
		if uerr != nil {
			result.Errored++
			continue
		}
		result.Processed++
		result.touch(RecomputeKey{Kind: "legislator", EntityID: legislator.ID, Period: session.Date.Year()})
		if created && !touchedSessions[session.ID] {
			touchedSessions[session.ID] = true
			result.emit(Event{Kind: "ATTENDANCE_RECORD", EntityID: session.ID})
		}
	}
	return result, nil
}

func (s *Service) applySessions(ctx context.Context, refID snowflake.ID, body []byte) (*Result, error) {
	records, err := decodeRecords[sessionRecord](body)
	if err != nil {
		return nil, err
	}

	result := newResult()
	for _, raw := range records {
		if raw.ID == "" {
			result.Errored++
			continue
		}
		date := parseDate(raw.Date)
		if date == nil {
			result.Errored++
			continue
		}
		session := legisdomain.Session{
			ID:          s.genID.Generate(),
			ExternalID:  raw.ID,
			Title:       raw.Title,
			Chamber:     raw.Chamber,
			Date:        *date,
			SourceRefID: refID,
		}
		if err := s.legis.UpsertSession(ctx, s.db, &session); err != nil {
			result.Errored++
			continue
		}
		result.Processed++
	}
	return result, nil
}

func movementSeen(history []legisdomain.BillMovement, raw movementRecord, date time.Time) bool {
	for _, movement := range history {
		// A stored date later than the incoming one still matches:
		// straggler dates are clamped on append.
		if movement.Description == raw.Description &&
			movement.ToStatus == legisdomain.BillStatus(raw.ToStatus) &&
			!movement.Date.Before(date) {
			return true
		}
	}
	return false
}

func mapVote(raw string) legisdomain.Vote {
	switch raw {
	case "AFFIRM", "AFFIRMATIVE":
		return legisdomain.VoteAffirmative
	case "NEG", "NEGATIVE":
		return legisdomain.VoteNegative
	case "ABST", "ABSTENTION":
		return legisdomain.VoteAbstention
	default:
		return legisdomain.VoteAbsent
	}
}

func mapAttendance(raw string) legisdomain.AttendanceStatus {
	switch raw {
	case "PRESENT", "present":
		return legisdomain.AttendancePresent
	case "LICENSE", "license":
		return legisdomain.AttendanceLicense
	default:
		return legisdomain.AttendanceAbsent
	}
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			parsed = parsed.UTC()
			return &parsed
		}
	}
	return nil
}

