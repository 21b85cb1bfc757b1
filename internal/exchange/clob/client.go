// Package clob is the Polymarket-facing exchange client. Order books and
// market metadata come from the CLOB and Gamma REST surfaces, holdings from
// the Data API, and order placement goes through the CLOB with EIP-712
// signed payloads and HMAC-authenticated requests.
package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/quoterd/internal/domain"
	"github.com/betbot/quoterd/internal/exchange"
	"github.com/betbot/quoterd/pkg/ratelimit"
	"github.com/betbot/quoterd/pkg/secretstore"
)

var log = logrus.WithField("component", "clob")

// Options configures the client.
type Options struct {
	ClobBaseURL  string
	GammaBaseURL string
	DataBaseURL  string
	ChainID      int64

	PrivateKey    *ecdsa.PrivateKey
	Funder        common.Address
	SignatureType int

	// DryRun short-circuits order placement and cancellation; nothing
	// reaches the exchange and IDs are generated locally.
	DryRun bool

	// Store, when set, caches derived API credentials across restarts.
	Store *secretstore.Store
}

// Client implements exchange.Client against Polymarket.
type Client struct {
	clob  *resty.Client
	gamma *resty.Client
	data  *resty.Client

	key           *ecdsa.PrivateKey
	address       common.Address
	funder        common.Address
	signatureType int
	chainID       int64
	dryRun        bool
	store         *secretstore.Store
	orderLimiter  *ratelimit.TokenBucket

	mu      sync.RWMutex
	creds   APICreds
	hasCred bool
	negRisk map[string]bool
}

var _ exchange.Client = (*Client)(nil)

// New builds a client. PrivateKey may be nil only in dry-run mode.
func New(opts Options) (*Client, error) {
	if opts.PrivateKey == nil && !opts.DryRun {
		return nil, errors.New("clob: private key is required outside dry-run")
	}

	c := &Client{
		clob:          newRestyClient(opts.ClobBaseURL),
		gamma:         newRestyClient(opts.GammaBaseURL),
		data:          newRestyClient(opts.DataBaseURL),
		key:           opts.PrivateKey,
		funder:        opts.Funder,
		signatureType: opts.SignatureType,
		chainID:       opts.ChainID,
		dryRun:        opts.DryRun,
		store:         opts.Store,
		negRisk:       make(map[string]bool),
		// CLOB allows 2400 order mutations per 10s window.
		orderLimiter: ratelimit.NewTokenBucket(2400, 240),
	}
	if opts.PrivateKey != nil {
		c.address = crypto.PubkeyToAddress(opts.PrivateKey.PublicKey)
		if c.funder == (common.Address{}) {
			c.funder = c.address
		}
	}
	return c, nil
}

func newRestyClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "quoterd/1.0")
}

// EnsureAPICreds loads cached credentials or performs the L1 handshake.
// Creating credentials for an address that already has them fails, in which
// case we derive the existing set.
func (c *Client) EnsureAPICreds(ctx context.Context) error {
	if c.dryRun && c.key == nil {
		return nil
	}

	storeKey := "clob-api-creds:" + c.address.Hex()
	if c.store != nil {
		var cached APICreds
		ok, err := c.store.GetJSON(storeKey, &cached)
		if err != nil {
			log.WithError(err).Warn("read cached api creds")
		} else if ok && cached.Key != "" {
			c.setCreds(cached)
			return nil
		}
	}

	creds, err := c.createAPICreds(ctx)
	if err != nil {
		log.WithError(err).Debug("create api creds failed, deriving existing")
		creds, err = c.deriveAPICreds(ctx)
		if err != nil {
			return errors.Wrap(err, "derive api creds")
		}
	}
	c.setCreds(creds)

	if c.store != nil {
		if err := c.store.SetJSON(storeKey, creds); err != nil {
			log.WithError(err).Warn("cache api creds")
		}
	}
	return nil
}

func (c *Client) setCreds(creds APICreds) {
	c.mu.Lock()
	c.creds = creds
	c.hasCred = true
	c.mu.Unlock()
}

func (c *Client) currentCreds() (APICreds, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds, c.hasCred
}

func (c *Client) createAPICreds(ctx context.Context) (APICreds, error) {
	headers, err := l1Headers(c.key, c.chainID)
	if err != nil {
		return APICreds{}, err
	}
	var creds APICreds
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&creds).
		Post("/auth/api-key")
	if err != nil {
		return APICreds{}, err
	}
	if resp.IsError() {
		return APICreds{}, errors.Errorf("create api key: %d %s", resp.StatusCode(), resp.String())
	}
	return creds, nil
}

func (c *Client) deriveAPICreds(ctx context.Context) (APICreds, error) {
	headers, err := l1Headers(c.key, c.chainID)
	if err != nil {
		return APICreds{}, err
	}
	var creds APICreds
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&creds).
		Get("/auth/derive-api-key")
	if err != nil {
		return APICreds{}, err
	}
	if resp.IsError() {
		return APICreds{}, errors.Errorf("derive api key: %d %s", resp.StatusCode(), resp.String())
	}
	return creds, nil
}

// FetchOrderbook returns the book for tokenID, bids and asks each sorted
// best price first and truncated to depth levels. depth <= 0 means full
// depth. Levels the venue sent in a shape we cannot parse are dropped.
func (c *Client) FetchOrderbook(ctx context.Context, tokenID string, depth int) ([]domain.BookLevel, []domain.BookLevel, error) {
	var book bookResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get("/book")
	if err != nil {
		return nil, nil, errors.Wrap(err, "fetch orderbook")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil, exchange.ErrNotFound
	}
	if resp.IsError() {
		return nil, nil, errors.Errorf("fetch orderbook: %d %s", resp.StatusCode(), resp.String())
	}

	bids := validLevels(book.Bids)
	asks := validLevels(book.Asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	if depth > 0 {
		if len(bids) > depth {
			bids = bids[:depth]
		}
		if len(asks) > depth {
			asks = asks[:depth]
		}
	}
	return bids, asks, nil
}

func validLevels(levels []domain.BookLevel) []domain.BookLevel {
	out := levels[:0]
	for _, l := range levels {
		if l.Valid {
			out = append(out, l)
		}
	}
	return out
}

// FetchMarket resolves a market by condition ID (0x-prefixed, CLOB) or by
// Gamma numeric ID.
func (c *Client) FetchMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	if strings.HasPrefix(marketID, "0x") {
		return c.fetchClobMarket(ctx, marketID)
	}
	return c.fetchGammaMarket(ctx, marketID)
}

func (c *Client) fetchClobMarket(ctx context.Context, conditionID string) (*domain.Market, error) {
	var m clobMarket
	resp, err := c.clob.R().
		SetContext(ctx).
		SetResult(&m).
		Get("/markets/" + conditionID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch market")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, exchange.ErrNotFound
	}
	if resp.IsError() {
		return nil, errors.Errorf("fetch market: %d %s", resp.StatusCode(), resp.String())
	}
	if m.ConditionID == "" {
		return nil, exchange.ErrNotFound
	}

	market := &domain.Market{
		ID:          conditionID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Active:      m.Active,
		Closed:      m.Closed,
	}
	for _, tok := range m.Tokens {
		switch strings.ToLower(tok.Outcome) {
		case "yes":
			market.YesTokenID = tok.TokenID
		case "no":
			market.NoTokenID = tok.TokenID
		}
	}
	// Non Yes/No binary markets still carry exactly two tokens.
	if market.YesTokenID == "" && market.NoTokenID == "" && len(m.Tokens) == 2 {
		market.YesTokenID = m.Tokens[0].TokenID
		market.NoTokenID = m.Tokens[1].TokenID
	}
	c.recordNegRisk(market, m.NegRisk)
	return market, nil
}

func (c *Client) fetchGammaMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	var m gammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetResult(&m).
		Get("/markets/" + marketID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch gamma market")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, exchange.ErrNotFound
	}
	if resp.IsError() {
		return nil, errors.Errorf("fetch gamma market: %d %s", resp.StatusCode(), resp.String())
	}
	if m.ConditionID == "" {
		return nil, exchange.ErrNotFound
	}

	ids, err := m.tokenIDs()
	if err != nil {
		return nil, errors.Wrap(err, "parse clobTokenIds")
	}
	market := &domain.Market{
		ID:          m.ID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Active:      m.Active,
		Closed:      m.Closed,
	}
	if len(ids) >= 1 {
		market.YesTokenID = ids[0]
	}
	if len(ids) >= 2 {
		market.NoTokenID = ids[1]
	}
	c.recordNegRisk(market, m.NegRisk)
	return market, nil
}

// recordNegRisk remembers which exchange contract settles each token so
// SubmitOrder signs against the right domain.
func (c *Client) recordNegRisk(market *domain.Market, negRisk bool) {
	c.mu.Lock()
	for _, id := range market.TokenIDs() {
		if id != "" {
			c.negRisk[id] = negRisk
		}
	}
	c.mu.Unlock()
}

func (c *Client) tokenNegRisk(tokenID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.negRisk[tokenID]
}

// FetchPositions returns the wallet's current holdings from the Data API.
func (c *Client) FetchPositions(ctx context.Context, address string) ([]domain.Position, error) {
	var rows []dataPosition
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParam("user", address).
		SetResult(&rows).
		Get("/positions")
	if err != nil {
		return nil, errors.Wrap(err, "fetch positions")
	}
	if resp.IsError() {
		return nil, errors.Errorf("fetch positions: %d %s", resp.StatusCode(), resp.String())
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		outcome := domain.OutcomeNo
		if strings.EqualFold(row.Outcome, "yes") {
			outcome = domain.OutcomeYes
		}
		positions = append(positions, domain.Position{
			ConditionID: row.ConditionID,
			Outcome:     outcome,
			TokenID:     row.Asset,
			Size:        float64(row.Size),
			AvgPrice:    float64(row.AvgPrice),
			MarkPrice:   float64(row.CurPrice),
		})
	}
	return positions, nil
}

// SubmitOrder signs and posts a GTC limit order, returning the exchange
// order ID. In dry-run mode the order is logged and assigned a local ID.
func (c *Client) SubmitOrder(ctx context.Context, tokenID string, side domain.Side, price, size float64) (string, error) {
	if c.dryRun {
		id := "dry-" + uuid.NewString()
		log.WithFields(logrus.Fields{
			"token": shortID(tokenID),
			"side":  side,
			"price": price,
			"size":  size,
			"order": id,
		}).Info("dry-run order")
		return id, nil
	}

	creds, ok := c.currentCreds()
	if !ok {
		return "", errors.New("clob: api creds not initialised")
	}
	if err := c.orderLimiter.Wait(ctx); err != nil {
		return "", err
	}

	order, err := c.buildOrder(tokenID, side, price, size)
	if err != nil {
		return "", err
	}

	payload := orderRequest{Order: *order, Owner: creds.Key, OrderType: "GTC"}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal order")
	}

	headers, err := l2Headers(c.key, creds, http.MethodPost, "/order", string(body))
	if err != nil {
		return "", err
	}

	var result orderResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(string(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", errors.Wrap(err, "post order")
	}
	if resp.IsError() {
		return "", errors.Errorf("post order: %d %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return "", errors.Errorf("order rejected: %s", result.ErrorMsg)
	}
	return result.OrderID, nil
}

// buildOrder converts price and size into the venue's 6-decimal base units.
// Token amounts carry at most 2 decimal places and USDC amounts at most 4,
// per exchange precision rules.
func (c *Client) buildOrder(tokenID string, side domain.Side, price, size float64) (*wireOrder, error) {
	if price <= 0 || price >= 1 {
		return nil, errors.Errorf("price %v outside (0, 1)", price)
	}
	if size <= 0 {
		return nil, errors.Errorf("size %v must be positive", size)
	}

	sizeIn6Dec := int64(math.Round(size*100)) * 10000
	usdcIn6Dec := int64(math.Round(size*price*10000)) * 100
	if sizeIn6Dec == 0 || usdcIn6Dec == 0 {
		return nil, errors.Errorf("order too small: size=%v price=%v", size, price)
	}

	var makerAmount, takerAmount int64
	sideInt := 1
	if side == domain.SideBuy {
		makerAmount, takerAmount = usdcIn6Dec, sizeIn6Dec
		sideInt = 0
	} else {
		makerAmount, takerAmount = sizeIn6Dec, usdcIn6Dec
	}

	order := &wireOrder{
		Salt:          generateSalt(),
		Maker:         c.funder.Hex(),
		Signer:        c.address.Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          string(side),
		SignatureType: c.signatureType,
		sideInt:       sideInt,
	}

	sig, err := signOrder(c.key, c.chainID, order, c.tokenNegRisk(tokenID))
	if err != nil {
		return nil, err
	}
	order.Signature = sig
	return order, nil
}

// CancelOrder removes a resting order. Cancelling an order the exchange no
// longer knows returns exchange.ErrNotFound.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		log.WithField("order", orderID).Info("dry-run cancel")
		return nil
	}

	creds, ok := c.currentCreds()
	if !ok {
		return errors.New("clob: api creds not initialised")
	}
	if err := c.orderLimiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"orderID": orderID})
	if err != nil {
		return errors.Wrap(err, "marshal cancel")
	}
	headers, err := l2Headers(c.key, creds, http.MethodDelete, "/order", string(body))
	if err != nil {
		return err
	}

	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(string(body)).
		Delete("/order")
	if err != nil {
		return errors.Wrap(err, "cancel order")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return exchange.ErrNotFound
	}
	if resp.IsError() {
		return errors.Errorf("cancel order: %d %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func shortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10]
}
