package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// BookLevel is a single price level of one side of an order book.
//
// The CLOB REST API and the market WebSocket feed are not consistent about
// the shape of a level: it may arrive as an object
// ({"price":"0.55","size":"100"}), as a tuple (["0.55","100"]), or as a bare
// string/number ("0.55"). UnmarshalJSON accepts all three. A level that
// cannot be parsed is kept with Valid=false instead of failing the whole
// book decode, so one junk entry never loses an update.
type BookLevel struct {
	Price float64
	Size  float64
	Valid bool
}

// Level constructs a valid level, for tests and programmatic ingestion.
func Level(price, size float64) BookLevel {
	return BookLevel{Price: price, Size: size, Valid: true}
}

func (l *BookLevel) UnmarshalJSON(data []byte) error {
	*l = BookLevel{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.EqualFold(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '{':
		var obj struct {
			Price json.RawMessage `json:"price"`
			Size  json.RawMessage `json:"size"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		p, ok := parseNumber(obj.Price)
		if !ok {
			return nil
		}
		s, _ := parseNumber(obj.Size)
		l.Price, l.Size, l.Valid = p, s, true
	case '[':
		var tuple []json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil || len(tuple) == 0 {
			return nil
		}
		p, ok := parseNumber(tuple[0])
		if !ok {
			return nil
		}
		var s float64
		if len(tuple) > 1 {
			s, _ = parseNumber(tuple[1])
		}
		l.Price, l.Size, l.Valid = p, s, true
	default:
		// bare string or number
		p, ok := parseNumber(data)
		if !ok {
			return nil
		}
		l.Price, l.Valid = p, true
	}
	return nil
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// BookSnapshot is a point-in-time derived summary of one token's order book.
// Immutable once created; a new ingest produces a new snapshot.
//
// BestBid/BestAsk are nil when that side of the book is empty. Mid, Spread
// and SpreadBps are defined only when both sides are present.
type BookSnapshot struct {
	TokenID   string
	BestBid   *float64
	BestAsk   *float64
	Mid       *float64
	Spread    *float64
	SpreadBps *float64
	Time      time.Time
}

// HasMid reports whether a reference price exists for quoting.
func (s *BookSnapshot) HasMid() bool {
	return s != nil && s.Mid != nil
}
