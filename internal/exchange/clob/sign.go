package clob

import (
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

// Exchange contracts on Polygon. Binary markets settle through CTFExchange;
// multi-outcome neg-risk markets go through NegRiskCTFExchange.
const (
	ctfExchangeAddress     = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "salt", Type: "uint256"},
		{Name: "maker", Type: "address"},
		{Name: "signer", Type: "address"},
		{Name: "taker", Type: "address"},
		{Name: "tokenId", Type: "uint256"},
		{Name: "makerAmount", Type: "uint256"},
		{Name: "takerAmount", Type: "uint256"},
		{Name: "expiration", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "feeRateBps", Type: "uint256"},
		{Name: "side", Type: "uint8"},
		{Name: "signatureType", Type: "uint8"},
	},
}

// signOrder computes the EIP-712 signature the exchange verifies on
// settlement. All uint256 fields must be *big.Int and addresses must be
// checksummed strings for apitypes to encode them.
func signOrder(key *ecdsa.PrivateKey, chainID int64, order *wireOrder, negRisk bool) (string, error) {
	verifyingContract := ctfExchangeAddress
	if negRisk {
		verifyingContract = negRiskExchangeAddress
	}

	domain := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           math.NewHexOrDecimal256(chainID),
		VerifyingContract: verifyingContract,
	}

	tokenID, ok := new(big.Int).SetString(order.TokenID, 10)
	if !ok {
		return "", errors.Errorf("invalid token id %q", order.TokenID)
	}
	makerAmount, _ := new(big.Int).SetString(order.MakerAmount, 10)
	takerAmount, _ := new(big.Int).SetString(order.TakerAmount, 10)
	expiration, _ := new(big.Int).SetString(order.Expiration, 10)
	nonce, _ := new(big.Int).SetString(order.Nonce, 10)
	feeRateBps, _ := new(big.Int).SetString(order.FeeRateBps, 10)

	message := map[string]interface{}{
		"salt":          big.NewInt(order.Salt),
		"maker":         common.HexToAddress(order.Maker).Hex(),
		"signer":        common.HexToAddress(order.Signer).Hex(),
		"taker":         common.HexToAddress(order.Taker).Hex(),
		"tokenId":       tokenID,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    expiration,
		"nonce":         nonce,
		"feeRateBps":    feeRateBps,
		"side":          big.NewInt(int64(order.sideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", errors.Wrap(err, "hash order typed data")
	}

	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", errors.Wrap(err, "sign order")
	}
	sig[64] += 27

	return "0x" + hex.EncodeToString(sig), nil
}

func generateSalt() int64 {
	return rand.New(rand.NewSource(time.Now().UnixNano())).Int63()
}
