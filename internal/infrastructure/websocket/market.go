// Package websocket streams live order book events from the CLOB market
// channel into the book tracker. The feed is an optional complement to the
// REST poll loop; both paths converge on the same ingest.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/quoterd/internal/domain"
)

var log = logrus.WithField("component", "marketws")

const (
	handshakeTimeout = 30 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 10 * time.Second
	reconnectDelay   = 5 * time.Second
)

// BookSink receives full book snapshots as they arrive on the wire.
type BookSink interface {
	Ingest(tokenID string, bids, asks []domain.BookLevel) *domain.BookSnapshot
}

// MarketFeed is a market-channel client with signal-driven reconnect.
type MarketFeed struct {
	url  string
	sink BookSink

	mu     sync.RWMutex
	conn   *websocket.Conn
	assets map[string]struct{}
	closed bool

	reconnectC chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewMarketFeed creates a feed for the given ws endpoint. Book events are
// forwarded to sink.
func NewMarketFeed(url string, sink BookSink) *MarketFeed {
	return &MarketFeed{
		url:        url,
		sink:       sink,
		assets:     make(map[string]struct{}),
		reconnectC: make(chan struct{}, 1),
	}
}

// Start dials the endpoint and begins streaming. Assets subscribed before
// Start are included in the initial subscription.
func (f *MarketFeed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.connect(); err != nil {
		return err
	}

	f.wg.Add(1)
	go f.reconnector()
	return nil
}

func (f *MarketFeed) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(f.ctx, f.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial market feed")
	}

	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.conn = conn
	assets := make([]string, 0, len(f.assets))
	for id := range f.assets {
		assets = append(assets, id)
	}
	f.mu.Unlock()

	if len(assets) > 0 {
		if err := f.send(map[string]interface{}{"type": "market", "assets_ids": assets}); err != nil {
			conn.Close()
			return errors.Wrap(err, "subscribe")
		}
	}

	f.wg.Add(2)
	go f.readLoop(conn)
	go f.pingLoop(conn)

	log.WithField("assets", len(assets)).Info("market feed connected")
	return nil
}

// Subscribe adds asset IDs to the stream. Connected feeds send the
// subscription immediately; otherwise it is included on the next connect.
func (f *MarketFeed) Subscribe(assetIDs ...string) error {
	f.mu.Lock()
	fresh := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		if _, ok := f.assets[id]; !ok {
			f.assets[id] = struct{}{}
			fresh = append(fresh, id)
		}
	}
	connected := f.conn != nil && !f.closed
	f.mu.Unlock()

	if !connected || len(fresh) == 0 {
		return nil
	}
	return f.send(map[string]interface{}{"type": "market", "assets_ids": fresh})
}

// Unsubscribe removes asset IDs from the stream.
func (f *MarketFeed) Unsubscribe(assetIDs ...string) error {
	f.mu.Lock()
	gone := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		if _, ok := f.assets[id]; ok {
			delete(f.assets, id)
			gone = append(gone, id)
		}
	}
	connected := f.conn != nil && !f.closed
	f.mu.Unlock()

	if !connected || len(gone) == 0 {
		return nil
	}
	return f.send(map[string]interface{}{"type": "unsubscribe", "assets_ids": gone})
}

func (f *MarketFeed) send(msg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return errors.New("marketws: not connected")
	}
	return f.conn.WriteJSON(msg)
}

func (f *MarketFeed) reconnector() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.reconnectC:
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			log.Warn("market feed reconnecting")
			if err := f.connect(); err != nil {
				log.WithError(err).Warn("market feed reconnect failed")
				f.triggerReconnect()
			}
		}
	}
}

func (f *MarketFeed) triggerReconnect() {
	select {
	case f.reconnectC <- struct{}{}:
	default:
	}
}

func (f *MarketFeed) pingLoop(conn *websocket.Conn) {
	defer f.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if !f.isCurrent(conn) {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				if f.ctx.Err() == nil {
					log.WithError(err).Warn("ping failed")
					f.triggerReconnect()
				}
				return
			}
		}
	}
}

func (f *MarketFeed) isCurrent(conn *websocket.Conn) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.conn == conn && !f.closed
}

func (f *MarketFeed) readLoop(conn *websocket.Conn) {
	defer f.wg.Done()
	for {
		if f.ctx.Err() != nil || !f.isCurrent(conn) {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() == nil && f.isCurrent(conn) {
				log.WithError(err).Warn("market feed read failed")
				f.triggerReconnect()
			}
			return
		}

		switch string(message) {
		case "PING":
			conn.WriteMessage(websocket.TextMessage, []byte("PONG"))
			continue
		case "PONG":
			continue
		}

		f.dispatch(message)
	}
}

type wsEvent struct {
	EventType string             `json:"event_type"`
	AssetID   string             `json:"asset_id"`
	Bids      []domain.BookLevel `json:"bids"`
	Asks      []domain.BookLevel `json:"asks"`
	Buys      []domain.BookLevel `json:"buys"`
	Sells     []domain.BookLevel `json:"sells"`
}

// dispatch handles one frame. The channel sends a JSON array on the initial
// subscription snapshot and single objects afterwards.
func (f *MarketFeed) dispatch(message []byte) {
	if len(message) > 0 && message[0] == '[' {
		var events []json.RawMessage
		if err := json.Unmarshal(message, &events); err != nil {
			log.WithError(err).Debug("unparsable event batch")
			return
		}
		for _, raw := range events {
			f.handleEvent(raw)
		}
		return
	}
	f.handleEvent(message)
}

func (f *MarketFeed) handleEvent(raw []byte) {
	var ev wsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.WithError(err).Debug("unparsable event")
		return
	}

	switch ev.EventType {
	case "book":
		bids, asks := ev.Bids, ev.Asks
		if len(bids) == 0 && len(ev.Buys) > 0 {
			bids = ev.Buys
		}
		if len(asks) == 0 && len(ev.Sells) > 0 {
			asks = ev.Sells
		}
		if ev.AssetID == "" {
			return
		}
		f.sink.Ingest(ev.AssetID, bids, asks)
	case "price_change", "tick_size_change", "last_trade_price":
		// level deltas need a resident book to apply against; the poll
		// loop refreshes the full book instead
	default:
		log.WithField("event_type", ev.EventType).Debug("unhandled event")
	}
}

// Close stops the feed and waits for its goroutines to exit.
func (f *MarketFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	if conn != nil {
		conn.Close()
	}
	f.wg.Wait()
	return nil
}
