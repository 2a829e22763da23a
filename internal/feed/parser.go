package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"MarginSync/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fillJSON is the JSON payload published on the fills stream.
// Field names use snake_case to match upstream producers.
type fillJSON struct {
	FillID        string `json:"fill_id"`
	OrderID       string `json:"order_id"`
	Side          string `json:"side"` // "buy" or "sell"
	Price         string `json:"price"`
	Size          string `json:"size"`
	Maker         bool   `json:"maker"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	Market        string `json:"market,omitempty"`
	TimestampUs   int64  `json:"timestamp_us"`
}

// ParseFill converts a raw fill message into a venue.Fill tagged as live.
func ParseFill(data []byte) (venue.Fill, error) {
	var j fillJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return venue.Fill{}, fmt.Errorf("parse fill: %w", err)
	}

	fillID, err := uuid.Parse(j.FillID)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse fill_id: %w", err)
	}
	if j.OrderID == "" {
		return venue.Fill{}, fmt.Errorf("fill %s: missing order_id", j.FillID)
	}
	if j.Side != "buy" && j.Side != "sell" {
		return venue.Fill{}, fmt.Errorf("fill %s: bad side %q", j.FillID, j.Side)
	}
	price, err := decimal.NewFromString(j.Price)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse price: %w", err)
	}
	size, err := decimal.NewFromString(j.Size)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse size: %w", err)
	}

	return venue.Fill{
		OrderID:       j.OrderID,
		Side:          j.Side,
		Market:        j.Market,
		BaseCurrency:  j.BaseCurrency,
		QuoteCurrency: j.QuoteCurrency,
		Price:         price,
		Size:          size,
		Maker:         j.Maker,
		FillID:        fillID,
		Timestamp:     time.UnixMicro(j.TimestampUs),
		Source:        venue.SourceLive,
	}, nil
}
