package clob

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

const (
	clobAuthDomainName = "ClobAuthDomain"
	clobAuthVersion    = "1"
	clobAuthMessage    = "This message attests that I control the given wallet"
)

// l1Signature signs the ClobAuth attestation used to create or derive API
// credentials.
func l1Signature(key *ecdsa.PrivateKey, chainID, timestamp, nonce int64) (string, error) {
	address := crypto.PubkeyToAddress(key.PublicKey)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    clobAuthDomainName,
			Version: clobAuthVersion,
			ChainId: math.NewHexOrDecimal256(chainID),
		},
		Message: map[string]interface{}{
			"address":   address.Hex(),
			"timestamp": fmt.Sprintf("%d", timestamp),
			"nonce":     big.NewInt(nonce),
			"message":   clobAuthMessage,
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", errors.Wrap(err, "hash auth typed data")
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", errors.Wrap(err, "sign auth attestation")
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// l1Headers returns the POLY_* headers for L1 authenticated endpoints.
func l1Headers(key *ecdsa.PrivateKey, chainID int64) (map[string]string, error) {
	ts := time.Now().Unix()
	sig, err := l1Signature(key, chainID, ts, 0)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	return map[string]string{
		"POLY_ADDRESS":   address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(ts, 10),
		"POLY_NONCE":     "0",
	}, nil
}

// hmacSignature signs timestamp+method+path+body with the base64url API
// secret. The CLOB issues secrets in base64url form and expects the
// signature back in the same alphabet.
func hmacSignature(secret string, timestamp int64, method, requestPath, body string) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + method + requestPath + body

	keyData, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", errors.Wrap(err, "decode api secret")
	}

	mac := hmac.New(sha256.New, keyData)
	mac.Write([]byte(message))

	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}

// l2Headers returns the POLY_* headers for endpoints authenticated with
// derived API credentials.
func l2Headers(key *ecdsa.PrivateKey, creds APICreds, method, requestPath, body string) (map[string]string, error) {
	ts := time.Now().Unix()
	sig, err := hmacSignature(creds.Secret, ts, method, requestPath, body)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	return map[string]string{
		"POLY_ADDRESS":    address.Hex(),
		"POLY_API_KEY":    creds.Key,
		"POLY_PASSPHRASE": creds.Passphrase,
		"POLY_TIMESTAMP":  strconv.FormatInt(ts, 10),
		"POLY_SIGNATURE":  sig,
	}, nil
}
