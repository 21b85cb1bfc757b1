package clob

import (
	"encoding/json"
	"strconv"

	"github.com/betbot/quoterd/internal/domain"
)

// APICreds are the L2 credentials the CLOB issues against an L1 signature.
type APICreds struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type bookResponse struct {
	Market string             `json:"market"`
	AssetID string            `json:"asset_id"`
	Bids   []domain.BookLevel `json:"bids"`
	Asks   []domain.BookLevel `json:"asks"`
}

type clobToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

type clobMarket struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
	NegRisk     bool        `json:"neg_risk"`
	Tokens      []clobToken `json:"tokens"`
}

// gammaMarket is the Gamma API market shape. Outcomes and token IDs arrive
// as JSON-encoded strings inside the JSON document.
type gammaMarket struct {
	ID           string `json:"id"`
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
	NegRisk      bool   `json:"negRisk"`
	Outcomes     string `json:"outcomes"`
	ClobTokenIDs string `json:"clobTokenIds"`
}

func (g *gammaMarket) tokenIDs() ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(g.ClobTokenIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// dataPosition is one holding row from the Data API. Numeric fields arrive
// as either numbers or strings depending on endpoint version.
type dataPosition struct {
	Asset       string      `json:"asset"`
	ConditionID string      `json:"conditionId"`
	Outcome     string      `json:"outcome"`
	Size        flexFloat   `json:"size"`
	AvgPrice    flexFloat   `json:"avgPrice"`
	CurPrice    flexFloat   `json:"curPrice"`
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 1 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type wireOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`

	sideInt int
}

type orderRequest struct {
	Order     wireOrder `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}
