// Package hyperliquid is the upstream protocol client: an HTTP /info caller
// and a WebSocket subscriber, both observing a shared rate budget. Wire
// shapes mirror the upstream's JSON exactly; everything downstream works in
// internal/models and internal/state types instead.
package hyperliquid

import "github.com/shopspring/decimal"

// InfoRequest is the single POST body shape the /info endpoint accepts; the
// Type field selects which of the other fields are meaningful.
type InfoRequest struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	Coin      string `json:"coin,omitempty"`
	StartTime int64  `json:"startTime,omitempty"`
	EndTime   int64  `json:"endTime,omitempty"`
}

// Leverage describes a position's margin regime and multiplier.
type Leverage struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// AssetPosition is one entry of clearinghouseState's assetPositions array.
type AssetPosition struct {
	Position struct {
		Coin           string          `json:"coin"`
		Szi            decimal.Decimal `json:"szi"`
		EntryPx        decimal.Decimal `json:"entryPx"`
		UnrealizedPnl  decimal.Decimal `json:"unrealizedPnl"`
		Leverage       Leverage        `json:"leverage"`
		LiquidationPx  *decimal.Decimal `json:"liquidationPx,omitempty"`
		MarginUsed     decimal.Decimal `json:"marginUsed"`
	} `json:"position"`
}

// ClearinghouseState is the response to {type: "clearinghouseState"}.
type ClearinghouseState struct {
	AssetPositions []AssetPosition `json:"assetPositions"`
	MarginSummary  struct {
		AccountValue decimal.Decimal `json:"accountValue"`
		TotalNtlPos  decimal.Decimal `json:"totalNtlPos"`
		TotalRawUsd  decimal.Decimal `json:"totalRawUsd"`
	} `json:"marginSummary"`
	Withdrawable decimal.Decimal `json:"withdrawable"`
}

// Fill is one entry of a userFills / userFillsByTime response, and the
// shape of a userFills WebSocket push.
type Fill struct {
	Coin          string          `json:"coin"`
	Side          string          `json:"side"` // "B" buyer, "A" seller
	Sz            decimal.Decimal `json:"sz"`
	Px            decimal.Decimal `json:"px"`
	ClosedPnl     decimal.Decimal `json:"closedPnl"`
	Fee           decimal.Decimal `json:"fee"`
	Time          int64           `json:"time"`
	Tid           int64           `json:"tid"`
	Hash          string          `json:"hash"`
	Oid           int64           `json:"oid"`
	Dir           string          `json:"dir,omitempty"`
	StartPosition decimal.Decimal `json:"startPosition"`
	Liquidation   *struct {
		Method string `json:"method"`
	} `json:"liquidation,omitempty"`
}

// FundingDelta is the payload nested inside a userFunding entry.
type FundingDelta struct {
	Coin        string          `json:"coin"`
	Usdc        decimal.Decimal `json:"usdc"`
	FundingRate decimal.Decimal `json:"fundingRate"`
	Szi         decimal.Decimal `json:"szi"`
	Type        string          `json:"type"`
}

// FundingEvent is one entry of a userFunding response.
type FundingEvent struct {
	Time  int64        `json:"time"`
	Delta FundingDelta `json:"delta"`
}

// PortfolioPeriod is one of the eight periods the portfolio endpoint reports.
type PortfolioPeriod string

const (
	PeriodDay         PortfolioPeriod = "day"
	PeriodWeek        PortfolioPeriod = "week"
	PeriodMonth       PortfolioPeriod = "month"
	PeriodAllTime     PortfolioPeriod = "allTime"
	PeriodPerpDay     PortfolioPeriod = "perpDay"
	PeriodPerpWeek    PortfolioPeriod = "perpWeek"
	PeriodPerpMonth   PortfolioPeriod = "perpMonth"
	PeriodPerpAllTime PortfolioPeriod = "perpAllTime"
)

// PortfolioEntry is [period, data] in the upstream's portfolio response.
type PortfolioEntry struct {
	Period PortfolioPeriod
	Data   PortfolioData
}

// PortfolioData is the per-period payload of a portfolio response.
type PortfolioData struct {
	AccountValueHistory [][2]interface{} `json:"accountValueHistory"` // [ms, "value"]
	PnlHistory          [][2]interface{} `json:"pnlHistory"`          // [ms, "value"]
	Vlm                 decimal.Decimal  `json:"vlm"`
}

// MarketTrade is one entry pushed on the "trades" WS channel, or returned by
// recentTrades.
type MarketTrade struct {
	Coin  string          `json:"coin"`
	Side  string          `json:"side"`
	Px    decimal.Decimal `json:"px"`
	Sz    decimal.Decimal `json:"sz"`
	Time  int64           `json:"time"`
	Hash  string          `json:"hash"`
	Tid   int64           `json:"tid"`
	Users [2]string       `json:"users"` // [buyer, seller]
}

// WSEnvelope is the outer shape of every WebSocket frame the upstream sends:
// a channel tag plus an opaque data payload decoded per-channel.
type WSEnvelope struct {
	Channel string          `json:"channel"`
	Data    interface{}     `json:"data,omitempty"`
	RawData []byte          `json:"-"`
}

// SubscribeMessage is the client-to-server frame that opens a channel.
type SubscribeMessage struct {
	Method       string       `json:"method"` // "subscribe" | "unsubscribe"
	Subscription Subscription `json:"subscription"`
}

// Subscription identifies one channel: userFills/userEvents key on User,
// trades keys on Coin, allMids needs neither.
type Subscription struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
}
