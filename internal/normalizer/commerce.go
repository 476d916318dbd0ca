package normalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/adapters/shopify"
	"github.com/observalabs/mirador/internal/apperr"
	commercedomain "github.com/observalabs/mirador/internal/commerce/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Shopify payload schemas. A payload whose shape mismatches the
// declared schema (wrong types, wrong envelope, trailing data)
// rejects the whole batch. Unknown extra fields are tolerated: the
// provider sends many beyond what the model keeps.

type shopifyVariant struct {
	ID                json.Number `json:"id"`
	Title             string      `json:"title"`
	Price             string      `json:"price"`
	InventoryQuantity *int        `json:"inventory_quantity"`
	Cost              string      `json:"cost,omitempty"`
}

type shopifyProduct struct {
	ID       json.Number      `json:"id"`
	Title    string           `json:"title"`
	Vendor   string           `json:"vendor"`
	Tags     string           `json:"tags"`
	Variants []shopifyVariant `json:"variants"`
}

type shopifyProductsPayload struct {
	Products []shopifyProduct `json:"products"`
}

type shopifyLineItem struct {
	ProductID json.Number `json:"product_id"`
	VariantID json.Number `json:"variant_id"`
	Title     string      `json:"title"`
	Quantity  int         `json:"quantity"`
	Price     string      `json:"price"`
}

type shopifyOrder struct {
	ID              json.Number       `json:"id"`
	OrderNumber     json.Number       `json:"order_number"`
	TotalPrice      string            `json:"total_price"`
	FinancialStatus string            `json:"financial_status"`
	Email           string            `json:"email"`
	CreatedAt       time.Time         `json:"created_at"`
	LineItems       []shopifyLineItem `json:"line_items"`
}

type shopifyOrdersPayload struct {
	Orders []shopifyOrder `json:"orders"`
}

type shopifyInventoryLevel struct {
	InventoryItemID json.Number `json:"inventory_item_id"`
	LocationID      json.Number `json:"location_id"`
	Available       int         `json:"available"`
}

type shopifyInventoryPayload struct {
	InventoryLevels []shopifyInventoryLevel `json:"inventory_levels"`
}

func (s *Service) applyCommerce(ctx context.Context, dataType string, tenantID, refID snowflake.ID, body []byte) (*Result, error) {
	switch dataType {
	case shopify.DataTypeProducts:
		return s.applyProducts(ctx, tenantID, refID, body)
	case shopify.DataTypeOrders:
		return s.applyOrders(ctx, tenantID, refID, body)
	case shopify.DataTypeInventory:
		return s.applyInventory(ctx, tenantID, refID, body)
	default:
		return nil, apperr.New(apperr.KindSourceSchema, "unknown commerce data type "+dataType)
	}
}

func (s *Service) applyProducts(ctx context.Context, tenantID, refID snowflake.ID, body []byte) (*Result, error) {
	var payload shopifyProductsPayload
	if err := decodeShape(body, &payload); err != nil {
		return nil, apperr.Wrap(apperr.KindSourceSchema, "products payload malformed", err)
	}
	if payload.Products == nil {
		return nil, apperr.New(apperr.KindSourceSchema, "products payload missing products key")
	}

	result := newResult()
	now := time.Now().UTC()
	for _, raw := range payload.Products {
		if raw.ID.String() == "" || raw.Title == "" {
			result.Errored++
			continue
		}

		// inventory_quantity is the sum of the variants' quantities
		// at upsert time.
		totalQty := 0
		var price, cost *float64
		for _, variant := range raw.Variants {
			if variant.InventoryQuantity != nil {
				totalQty += *variant.InventoryQuantity
			}
			if price == nil {
				price = parseMoney(variant.Price)
			}
			if cost == nil {
				cost = parseMoney(variant.Cost)
			}
		}

		variantsRaw, err := json.Marshal(raw.Variants)
		if err != nil {
			result.Errored++
			continue
		}

		product := commercedomain.Product{
			ID:                s.genID.Generate(),
			TenantID:          tenantID,
			ExternalID:        raw.ID.String(),
			Title:             raw.Title,
			Vendor:            raw.Vendor,
			Price:             price,
			CostPerItem:       cost,
			InventoryQuantity: totalQty,
			Tags:              raw.Tags,
			Variants:          datatypes.JSON(variantsRaw),
			SourceRefID:       refID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if _, err := s.commerce.UpsertProduct(ctx, s.db, &product); err != nil {
			s.log.Warn("product upsert failed", zap.String("external_id", raw.ID.String()), zap.Error(err))
			result.Errored++
			continue
		}
		result.Processed++
	}

	result.touch(RecomputeKey{Kind: "tenant_analysis", EntityID: tenantID})
	return result, nil
}

func (s *Service) applyOrders(ctx context.Context, tenantID, refID snowflake.ID, body []byte) (*Result, error) {
	var payload shopifyOrdersPayload
	if err := decodeShape(body, &payload); err != nil {
		return nil, apperr.Wrap(apperr.KindSourceSchema, "orders payload malformed", err)
	}
	if payload.Orders == nil {
		return nil, apperr.New(apperr.KindSourceSchema, "orders payload missing orders key")
	}

	result := newResult()
	now := time.Now().UTC()
	for _, raw := range payload.Orders {
		if raw.ID.String() == "" {
			result.Errored++
			continue
		}
		orderDate := raw.CreatedAt
		if orderDate.IsZero() {
			orderDate = now
		}
		order := commercedomain.Order{
			ID:            s.genID.Generate(),
			TenantID:      tenantID,
			ExternalID:    raw.ID.String(),
			Ordinal:       raw.OrderNumber.String(),
			TotalPrice:    derefMoney(parseMoney(raw.TotalPrice)),
			Status:        raw.FinancialStatus,
			CustomerEmail: raw.Email,
			OrderDate:     orderDate.UTC(),
			SourceRefID:   refID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if _, err := s.commerce.UpsertOrder(ctx, s.db, &order); err != nil {
			s.log.Warn("order upsert failed", zap.String("external_id", raw.ID.String()), zap.Error(err))
			result.Errored++
			continue
		}

		// Line items match products by external-id string comparison
		// on product_id; variant ids are carried but not matched.
		items := make([]commercedomain.OrderLineItem, 0, len(raw.LineItems))
		for _, li := range raw.LineItems {
			items = append(items, commercedomain.OrderLineItem{
				ID:                s.genID.Generate(),
				ProductExternalID: li.ProductID.String(),
				VariantExternalID: li.VariantID.String(),
				Title:             li.Title,
				Quantity:          li.Quantity,
				Price:             derefMoney(parseMoney(li.Price)),
			})
		}
		if err := s.commerce.ReplaceOrderLineItems(ctx, s.db, &order, items); err != nil {
			result.Errored++
			continue
		}
		result.Processed++
	}

	result.touch(RecomputeKey{Kind: "tenant_analysis", EntityID: tenantID})
	return result, nil
}

func (s *Service) applyInventory(ctx context.Context, tenantID, refID snowflake.ID, body []byte) (*Result, error) {
	var payload shopifyInventoryPayload
	if err := decodeShape(body, &payload); err != nil {
		return nil, apperr.Wrap(apperr.KindSourceSchema, "inventory payload malformed", err)
	}
	if payload.InventoryLevels == nil {
		return nil, apperr.New(apperr.KindSourceSchema, "inventory payload missing inventory_levels key")
	}

	result := newResult()
	now := time.Now().UTC()
	for _, raw := range payload.InventoryLevels {
		if raw.InventoryItemID.String() == "" || raw.LocationID.String() == "" {
			result.Errored++
			continue
		}
		level := commercedomain.InventoryLevel{
			ID:                 s.genID.Generate(),
			TenantID:           tenantID,
			VariantExternalID:  raw.InventoryItemID.String(),
			LocationExternalID: raw.LocationID.String(),
			Quantity:           raw.Available,
			SourceRefID:        refID,
			UpdatedAt:          now,
		}
		if err := s.commerce.UpsertInventoryLevel(ctx, s.db, &level); err != nil {
			result.Errored++
			continue
		}
		result.Processed++
	}

	result.touch(RecomputeKey{Kind: "tenant_analysis", EntityID: tenantID})
	return result, nil
}

func decodeShape(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after payload")
	}
	return nil
}

func parseMoney(raw string) *float64 {
	if raw == "" {
		return nil
	}
	var value float64
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil
	}
	return &value
}

func derefMoney(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
