package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder represents an order as returned by the Polymarket CLOB API.
type APIOrder struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	MarketID      string  `json:"market"`
	AssetID       string  `json:"asset_id"`
	Side          string  `json:"side"` // "BUY" or "SELL"
	Type          string  `json:"type"` // "GTC", "GTD", "FOK"
	OriginalSize  string  `json:"original_size"`
	SizeMatched   string  `json:"size_matched"`
	Price         string  `json:"price"`
	Owner         string  `json:"owner"`
	Signature     string  `json:"signature"`
	Expiration    string  `json:"expiration"`
	CreatedAt     string  `json:"created_at"`
	FilledAt      *string `json:"filled_at,omitempty"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
	SignatureType int     `json:"signature_type"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APITrade is a single execution as returned by the data API activity feed.
// The same shape serves two purposes: reconciling our own wallet's fills and
// watching a tracked wallet for copy signals.
type APITrade struct {
	TransactionHash string `json:"transactionHash"`
	ProxyWallet     string `json:"proxyWallet"`
	ConditionID     string `json:"conditionId"`
	Asset           string `json:"asset"`
	Side            string `json:"side"` // "BUY" or "SELL"
	Price           any    `json:"price"`
	Size            any    `json:"size"`
	Timestamp       int64  `json:"timestamp"` // unix seconds
	OrderID         string `json:"orderID,omitempty"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"condition_id"`
	Slug          string   `json:"slug"`
	ActiveFromAPI flexBool `json:"active"` // API may send bool or "true"/"false" string
	Active        bool     `json:"is_active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`       // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs  string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Tokens        []Token  `json:"tokens"`
	Volume        string   `json:"volume"`
	TickSize      string   `json:"minimum_tick_size"`
	EndDateISO    string   `json:"end_date_iso"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSMessage is the outer envelope of every WebSocket frame from the
// Polymarket CLOB WebSocket API.
type WSMessage struct {
	MsgType   string `json:"msg_type"` // "book", "price_change", "last_trade_price", "error"
	AssetID   string `json:"asset_id,omitempty"`
	Market    string `json:"market,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// For "book" messages
	Book *BookMessage `json:"-"`
	// For "price_change" messages
	PriceChange *PriceChangeMessage `json:"-"`
	// For "last_trade_price" messages
	LastTradePrice *PriceMessage `json:"-"`
}

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage represents an incremental orderbook price-level update.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// PriceMessage represents the most recent trade price for an asset.
type PriceMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
	Markets []string `json:"markets,omitempty"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// ToDomainOrder converts an APIOrder to a domain.Order.
func (a *APIOrder) ToDomainOrder() domain.Order {
	o := domain.Order{
		ID:        a.ID,
		MarketID:  a.MarketID,
		TokenID:   a.AssetID,
		Wallet:    a.Owner,
		Signature: a.Signature,
	}

	switch a.Side {
	case "BUY":
		o.Side = domain.OrderSideBuy
	case "SELL":
		o.Side = domain.OrderSideSell
	}

	switch a.Type {
	case "GTC":
		o.Type = domain.OrderTypeGTC
	case "GTD":
		o.Type = domain.OrderTypeGTD
	case "FOK":
		o.Type = domain.OrderTypeFOK
	}

	// Price and sizes to fixed-point (1e6).
	if price, err := strconv.ParseFloat(a.Price, 64); err == nil {
		o.PriceTicks = int64(price * 1e6)
		o.AvgFillPrice = price
	}
	if orig, err := strconv.ParseFloat(a.OriginalSize, 64); err == nil {
		o.SizeUnits = int64(orig * 1e6)
	}
	if matched, err := strconv.ParseFloat(a.SizeMatched, 64); err == nil {
		o.FilledUnits = int64(matched * 1e6)
	}

	switch a.Status {
	case "live", "open":
		if o.FilledUnits > 0 {
			o.Status = domain.OrderStatusPartiallyFilled
		} else {
			o.Status = domain.OrderStatusOpen
		}
	case "matched", "filled":
		o.Status = domain.OrderStatusFilled
	case "cancelled", "canceled":
		o.Status = domain.OrderStatusCancelled
	case "rejected", "invalid", "unmatched":
		o.Status = domain.OrderStatusRejected
	default:
		o.Status = domain.OrderStatusPending
	}

	if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		o.CreatedAt = t
	}
	switch {
	case a.FilledAt != nil:
		if t, err := time.Parse(time.RFC3339, *a.FilledAt); err == nil {
			o.UpdatedAt = t
		}
	case a.CancelledAt != nil:
		if t, err := time.Parse(time.RFC3339, *a.CancelledAt); err == nil {
			o.UpdatedAt = t
		}
	}

	return o
}

// ToDomainResult converts an APIOrderResult to a domain.SubmitResult.
func (r *APIOrderResult) ToDomainResult() domain.SubmitResult {
	return domain.SubmitResult{
		Accepted:    r.Success,
		OrderID:     r.OrderID,
		Message:     r.ErrorMsg,
		ShouldRetry: r.ShouldRetry,
	}
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Token IDs are
// read from the embedded tokens array when present and fall back to the
// JSON-encoded clob_token_ids string.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		Outcomes:    [2]string{"Yes", "No"},
		TickSize:    0.01,
	}

	if ts, err := strconv.ParseFloat(m.TickSize, 64); err == nil && ts > 0 {
		dm.TickSize = ts
	}
	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	if m.Closed {
		dm.Status = domain.MarketStatusClosed
	} else if m.Active || bool(m.ActiveFromAPI) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusSettled
	}

	for i, tok := range m.Tokens {
		if i >= 2 {
			break
		}
		dm.TokenIDs[i] = tok.TokenID
		if tok.Outcome != "" {
			dm.Outcomes[i] = tok.Outcome
		}
	}
	if dm.TokenIDs[0] == "" && m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil {
			for i := 0; i < len(ids) && i < 2; i++ {
				dm.TokenIDs[i] = ids[i]
			}
		}
	}
	if m.Outcomes != "" {
		var outs []string
		if err := json.Unmarshal([]byte(m.Outcomes), &outs); err == nil {
			for i := 0; i < len(outs) && i < 2; i++ {
				dm.Outcomes[i] = outs[i]
			}
		}
	}

	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.ExpiresAt = t
		}
	}

	return dm
}

// ToDomainSignal converts an APITrade into a domain.WalletSignal.
func (t *APITrade) ToDomainSignal() domain.WalletSignal {
	sig := domain.WalletSignal{
		Wallet:    t.ProxyWallet,
		MarketID:  t.ConditionID,
		AssetID:   t.Asset,
		Price:     flexFloat(t.Price),
		Size:      flexFloat(t.Size),
		Timestamp: time.Unix(t.Timestamp, 0),
	}
	if strings.EqualFold(t.Side, "SELL") {
		sig.Side = domain.OrderSideSell
	} else {
		sig.Side = domain.OrderSideBuy
	}
	return sig
}

// ToDomainFill converts an APITrade belonging to our own wallet into a
// domain.Fill. The transaction hash keys fill deduplication.
func (t *APITrade) ToDomainFill() domain.Fill {
	f := domain.Fill{
		ID:         t.TransactionHash,
		OrderID:    t.OrderID,
		MarketID:   t.ConditionID,
		TokenID:    t.Asset,
		PriceTicks: int64(flexFloat(t.Price) * 1e6),
		SizeUnits:  int64(flexFloat(t.Size) * 1e6),
		Timestamp:  time.Unix(t.Timestamp, 0),
	}
	if strings.EqualFold(t.Side, "SELL") {
		f.Side = domain.OrderSideSell
	} else {
		f.Side = domain.OrderSideBuy
	}
	return f
}

// flexFloat coerces a JSON number or numeric string to float64. The data API
// is inconsistent about which it sends.
func flexFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case json.Number:
		f, _ := x.Float64()
		return f
	}
	return 0
}

// BookToDomainUpdate reduces a full orderbook snapshot to the best bid/ask
// pair strategies consume.
func BookToDomainUpdate(b *BookMessage) domain.BookUpdate {
	up := domain.BookUpdate{
		MarketID:  b.Market,
		AssetID:   b.AssetID,
		Timestamp: parseWSTimestamp(b.Timestamp),
	}
	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		if p > up.BestBid {
			up.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		if up.BestAsk == 0 || p < up.BestAsk {
			up.BestAsk = p
		}
	}
	return up
}

// BookToDomainSnapshot converts a BookMessage to a full domain.OrderbookSnapshot.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		AssetID:   b.AssetID,
		Timestamp: parseWSTimestamp(b.Timestamp),
	}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if snap.BestAsk == 0 || p < snap.BestAsk {
			snap.BestAsk = p
		}
	}

	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	return snap
}

// PriceToDomainTick converts a PriceMessage (last trade price) to a
// domain.TradeTick.
func PriceToDomainTick(p *PriceMessage) domain.TradeTick {
	tick := domain.TradeTick{
		MarketID:  p.Market,
		AssetID:   p.AssetID,
		Timestamp: parseWSTimestamp(p.Timestamp),
	}
	tick.Price, _ = strconv.ParseFloat(p.Price, 64)
	tick.Size, _ = strconv.ParseFloat(p.Size, 64)
	return tick
}

// parseWSTimestamp handles the three timestamp encodings observed on the
// wire: unix millis, unix seconds, and RFC 3339.
func parseWSTimestamp(s string) time.Time {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts)
		}
		return time.Unix(ts, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
