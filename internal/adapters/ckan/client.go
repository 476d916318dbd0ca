package ckan

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/observalabs/mirador/internal/apperr"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DataType names the public legislative datasets the adapter pulls.
const (
	DataTypeLegislators = "legis_legislators"
	DataTypeBills       = "legis_bills"
	DataTypeMovements   = "legis_movements"
	DataTypeVotes       = "legis_votes"
	DataTypeAttendance  = "legis_attendance"
	DataTypeSessions    = "legis_sessions"
)

func DataTypes() []string {
	return []string{
		DataTypeLegislators,
		DataTypeBills,
		DataTypeMovements,
		DataTypeVotes,
		DataTypeAttendance,
		DataTypeSessions,
	}
}

// RawPayload mirrors the Shopify adapter contract: verbatim bytes
// plus the declared data type. CKAN resources may be JSON datastore
// responses or plain CSV.
type RawPayload struct {
	DataType string
	Format   string // json | csv
	Body     []byte
}

// Client fetches public CKAN resources. Resource paths are data; the
// base URL is overridable for mirrors.
type Client struct {
	http      *http.Client
	baseURL   string
	resources map[string]resource
	log       *zap.Logger
}

type resource struct {
	path   string
	format string
}

func New(log *zap.Logger) *Client {
	base := strings.TrimRight(os.Getenv("LEGIS_CKAN_BASE_URL"), "/")
	if base == "" {
		base = "https://datos.hcdn.gob.ar"
	}
	return &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: base,
		resources: map[string]resource{
			DataTypeLegislators: {path: "/api/3/action/datastore_search?resource_id=legisladores&limit=1000", format: "json"},
			DataTypeBills:       {path: "/api/3/action/datastore_search?resource_id=proyectos&limit=5000", format: "json"},
			DataTypeMovements:   {path: "/api/3/action/datastore_search?resource_id=tramites&limit=10000", format: "json"},
			DataTypeVotes:       {path: "/api/3/action/datastore_search?resource_id=votaciones&limit=5000", format: "json"},
			DataTypeAttendance:  {path: "/dataset/asistencias/asistencias.csv", format: "csv"},
			DataTypeSessions:    {path: "/api/3/action/datastore_search?resource_id=sesiones&limit=1000", format: "json"},
		},
		log: log.Named("adapter.ckan"),
	}
}

// SourceKey identifies the fetch origin for source-ref dedupe.
func (c *Client) SourceKey(dataType string) string {
	res, ok := c.resources[dataType]
	if !ok {
		return c.baseURL + "#" + dataType
	}
	return c.baseURL + res.path
}

// Fetch pulls one dataset. The body is returned verbatim for
// checksumming and replay.
func (c *Client) Fetch(ctx context.Context, dataType string) (RawPayload, error) {
	res, ok := c.resources[dataType]
	if !ok {
		return RawPayload{}, apperr.New(apperr.KindSourceSchema, fmt.Sprintf("unknown data type %q", dataType))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+res.path, nil)
	if err != nil {
		return RawPayload{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return RawPayload{}, apperr.Wrap(apperr.KindTransientIO, "source unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawPayload{}, apperr.Wrap(apperr.KindTransientIO, "source read failed", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return RawPayload{}, apperr.New(apperr.KindTransientIO, fmt.Sprintf("source returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return RawPayload{}, apperr.New(apperr.KindSourceSchema, fmt.Sprintf("source returned %d", resp.StatusCode))
	}

	return RawPayload{DataType: dataType, Format: res.format, Body: body}, nil
}

var Module = fx.Module("adapter.ckan",
	fx.Provide(New),
)
