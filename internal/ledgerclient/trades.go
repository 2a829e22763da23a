package ledgerclient

import (
	"context"
	"fmt"
	"time"

	"MarginSync/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// tradeJSON is one record from the trades service. Field names follow that
// service's wire format, not ours.
type tradeJSON struct {
	OrderID       string `json:"orderId"`
	UUID          string `json:"uuid"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	MarketName    string `json:"marketName"`
	BaseCurrency  string `json:"baseCurrency"`
	QuoteCurrency string `json:"quoteCurrency"`
	Maker         bool   `json:"maker"`
	LoadTimestamp string `json:"loadTimestamp"`
}

// FetchHistoricalFills pulls the full fill history for one sub-order-book
// account. Malformed records are skipped with a warning rather than failing
// the whole page.
func (c *Client) FetchHistoricalFills(ctx context.Context, subAccount venue.Address) ([]venue.Fill, error) {
	var body struct {
		Data []tradeJSON `json:"data"`
	}
	url := fmt.Sprintf("%s/trades/open_orders/%s", c.tradesURL, subAccount)
	if err := c.getJSON(ctx, url, &body); err != nil {
		return nil, err
	}

	fills := make([]venue.Fill, 0, len(body.Data))
	for _, t := range body.Data {
		fill, err := t.toFill()
		if err != nil {
			c.log.Warn().Err(err).Str("order_id", t.OrderID).Msg("skipping malformed trade record")
			continue
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

func (t tradeJSON) toFill() (venue.Fill, error) {
	fillID, err := uuid.Parse(t.UUID)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse uuid: %w", err)
	}
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse price: %w", err)
	}
	size, err := decimal.NewFromString(t.Size)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse size: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, t.LoadTimestamp)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse loadTimestamp: %w", err)
	}

	return venue.Fill{
		OrderID:       t.OrderID,
		Side:          t.Side,
		Market:        t.MarketName,
		BaseCurrency:  t.BaseCurrency,
		QuoteCurrency: t.QuoteCurrency,
		Price:         price,
		Size:          size,
		Maker:         t.Maker,
		FillID:        fillID,
		Timestamp:     ts,
		Source:        venue.SourceHistorical,
	}, nil
}
