package normalizer

import (
	"context"
	"fmt"
	"testing"

	"github.com/observalabs/mirador/internal/apperr"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(records string) []byte {
	return []byte(fmt.Sprintf(`{"success": true, "result": {"records": %s}}`, records))
}

const legislatorsRecords = `[
  {"id": "L-1", "first_name": "Ana", "last_name": "Perez", "block": "Bloque A", "province": "Cordoba", "chamber": "diputados", "active": true, "term_start": "2023-12-10"},
  {"id": "L-2", "first_name": "Juan", "last_name": "Gomez", "block": "Bloque B", "province": "Salta", "chamber": "diputados", "active": true, "term_start": "2023-12-10"}
]`

func seedLegislators(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.Apply(context.Background(), "legis_legislators", nil, 1, envelope(legislatorsRecords))
	require.NoError(t, err)
}

func seedBill(t *testing.T, svc *Service, id string, status string) {
	t.Helper()
	records := fmt.Sprintf(`[{"id": %q, "title": "Proyecto %s", "status": %q, "type": "LEY", "presented_date": "2026-03-01", "period": 2026, "authors": [{"legislator_id": "L-1", "role": "AUTHOR"}]}]`, id, id, status)
	_, err := svc.Apply(context.Background(), "legis_bills", nil, 1, envelope(records))
	require.NoError(t, err)
}

func TestApplyBillsCreatesAuthorsAndEvents(t *testing.T) {
	svc, db := newTestNormalizer(t)
	seedLegislators(t, svc)

	records := `[{"id": "B-1", "title": "Proyecto Uno", "status": "PRESENTED", "type": "LEY", "presented_date": "2026-03-01", "period": 2026, "authors": [{"legislator_id": "L-1", "role": "AUTHOR"}, {"legislator_id": "L-404", "role": "COAUTHOR"}]}]`
	result, err := svc.Apply(context.Background(), "legis_bills", nil, 2, envelope(records))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	// The missing coauthor skips the dependent row and counts as an
	// error; the legislator is expected to arrive in a later sync.
	assert.Equal(t, 1, result.Errored)

	require.Len(t, result.events, 1)
	assert.Equal(t, "BILL_CREATED", result.events[0].Kind)

	var authors []legisdomain.BillAuthor
	require.NoError(t, db.Find(&authors).Error)
	assert.Len(t, authors, 1)
}

func TestApplyMovementsKeepsDenseOrderIndex(t *testing.T) {
	svc, db := newTestNormalizer(t)
	seedLegislators(t, svc)
	seedBill(t, svc, "B-1", "PRESENTED")

	first := `[{"bill_id": "B-1", "description": "Ingresa a comisión", "from_status": "PRESENTED", "to_status": "IN_COMMITTEE", "date": "2026-03-05"}]`
	result, err := svc.Apply(context.Background(), "legis_movements", nil, 3, envelope(first))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	second := `[{"bill_id": "B-1", "description": "Dictamen favorable", "from_status": "IN_COMMITTEE", "to_status": "WITH_OPINION", "date": "2026-04-01"}]`
	_, err = svc.Apply(context.Background(), "legis_movements", nil, 4, envelope(second))
	require.NoError(t, err)

	var movements []legisdomain.BillMovement
	require.NoError(t, db.Order("order_index").Find(&movements).Error)
	require.Len(t, movements, 2)
	for i, movement := range movements {
		assert.Equal(t, i, movement.OrderIndex)
	}
	assert.False(t, movements[1].Date.Before(movements[0].Date))

	var bill legisdomain.Bill
	require.NoError(t, db.Where("external_id = ?", "B-1").First(&bill).Error)
	assert.Equal(t, legisdomain.BillWithOpinion, bill.Status)
}

func TestApplyMovementsNeverRegressesStatus(t *testing.T) {
	svc, db := newTestNormalizer(t)
	seedLegislators(t, svc)
	seedBill(t, svc, "B-2", "WITH_OPINION")

	regress := `[{"bill_id": "B-2", "description": "Nota administrativa", "from_status": "WITH_OPINION", "to_status": "IN_COMMITTEE", "date": "2026-05-01"}]`
	result, err := svc.Apply(context.Background(), "legis_movements", nil, 3, envelope(regress))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	// Recorded in history but the bill keeps its current status.
	var bill legisdomain.Bill
	require.NoError(t, db.Where("external_id = ?", "B-2").First(&bill).Error)
	assert.Equal(t, legisdomain.BillWithOpinion, bill.Status)

	var count int64
	require.NoError(t, db.Model(&legisdomain.BillMovement{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestApplyMovementTouchesAuthorsForRecompute(t *testing.T) {
	svc, _ := newTestNormalizer(t)
	seedLegislators(t, svc)
	seedBill(t, svc, "B-3", "PRESENTED")

	movement := `[{"bill_id": "B-3", "description": "Ingresa a comisión", "from_status": "PRESENTED", "to_status": "IN_COMMITTEE", "date": "2026-03-05"}]`
	result, err := svc.Apply(context.Background(), "legis_movements", nil, 3, envelope(movement))
	require.NoError(t, err)

	require.Len(t, result.events, 1)
	assert.Equal(t, "BILL_MOVEMENT", result.events[0].Kind)

	found := false
	for key := range result.affected {
		if key.Kind == "legislator" && key.Period == 2026 {
			found = true
		}
	}
	assert.True(t, found, "the author's metrics must be queued for recompute")
}

func TestApplyVotesOverwritesTalliesFromPayload(t *testing.T) {
	svc, db := newTestNormalizer(t)
	seedLegislators(t, svc)

	records := `[{"id": "V-1", "title": "Votación General", "date": "2026-06-01", "result": "APPROVED", "affirmative": 1, "negative": 1, "abstentions": 0, "absent": 0, "votes": [{"legislator_id": "L-1", "vote": "AFFIRM"}, {"legislator_id": "L-2", "vote": "NEG"}]}]`
	result, err := svc.Apply(context.Background(), "legis_votes", nil, 2, envelope(records))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var event legisdomain.VoteEvent
	require.NoError(t, db.Where("external_id = ?", "V-1").First(&event).Error)

	var resultsCount int64
	require.NoError(t, db.Model(&legisdomain.VoteResult{}).
		Where("vote_event_id = ?", event.ID).Count(&resultsCount).Error)

	// Tallies equal the count of VoteResult rows for this fixture.
	assert.EqualValues(t, event.Affirmative+event.Negative+event.Abstentions+event.Absent, resultsCount)

	// Replaying is idempotent on (legislator, vote_event).
	_, err = svc.Apply(context.Background(), "legis_votes", nil, 3, envelope(records))
	require.NoError(t, err)
	require.NoError(t, db.Model(&legisdomain.VoteResult{}).Count(&resultsCount).Error)
	assert.EqualValues(t, 2, resultsCount)
}

func TestApplyAttendanceFromCSV(t *testing.T) {
	svc, db := newTestNormalizer(t)
	seedLegislators(t, svc)

	sessions := `[{"id": "S-1", "title": "Sesión Ordinaria", "chamber": "diputados", "date": "2026-06-01"}]`
	_, err := svc.Apply(context.Background(), "legis_sessions", nil, 2, envelope(sessions))
	require.NoError(t, err)

	csvBody := "session_id,legislator_id,status\nS-1,L-1,PRESENT\nS-1,L-2,ABSENT\nS-1,L-404,PRESENT\n"
	result, err := svc.Apply(context.Background(), "legis_attendance", nil, 3, []byte(csvBody))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Errored)
	require.Len(t, result.events, 1)
	assert.Equal(t, "ATTENDANCE_RECORD", result.events[0].Kind)

	var count int64
	require.NoError(t, db.Model(&legisdomain.Attendance{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestApplyLegislativeRejectsBrokenEnvelope(t *testing.T) {
	svc, _ := newTestNormalizer(t)

	_, err := svc.Apply(context.Background(), "legis_bills", nil, 1, []byte(`{"success": false}`))
	require.Error(t, err)
	assert.Equal(t, apperr.KindSourceSchema, apperr.KindOf(err))
}
