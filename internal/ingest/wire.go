package ingest

import (
	"encoding/json"

	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
)

// userFillsFrame is the payload of a userFills WS push: isSnapshot is true
// only for the very first frame after subscribing, carrying the account's
// recent fill history instead of one incremental fill.
type userFillsFrame struct {
	User       string              `json:"user"`
	IsSnapshot bool                `json:"isSnapshot"`
	Fills      []hyperliquid.Fill  `json:"fills"`
}

func decodeUserFillsFrame(raw []byte) ([]hyperliquid.Fill, error) {
	var frame userFillsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return frame.Fills, nil
}

// marketTradesFrame is the payload of a "trades" WS push: a batch of
// market-wide trade prints for the subscribed coin.
type marketTradesFrame []hyperliquid.MarketTrade

func decodeMarketTradesFrame(raw []byte) ([]hyperliquid.MarketTrade, error) {
	var frame marketTradesFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return frame, nil
}
