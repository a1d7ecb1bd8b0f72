package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Typed-data hashes of the relayer's order and bundle structs.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	perpOrderTypeHash = ethcrypto.Keccak256(
		[]byte("PerpOrder(bytes32 clientOrderId,uint256 market,uint8 side,uint256 price,uint256 baseAmount,bool reduceOnly,uint256 nonce)"),
	)

	bundleTypeHash = ethcrypto.Keccak256(
		[]byte("Bundle(bytes32 ordersHash,uint256 deadline)"),
	)
)

const (
	domainName    = "PerpRelayer"
	domainVersion = "1"
)

// OrderPayload is one perp order as signed for the relayer. Big numbers are
// decimal strings in venue precision units.
type OrderPayload struct {
	ClientOrderID string `json:"clientOrderId"`
	Market        uint64 `json:"market"`
	Side          int    `json:"side"` // 0 = long, 1 = short
	Price         string `json:"price"`
	BaseAmount    string `json:"baseAmount"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Nonce         string `json:"nonce"`
}

// Signer signs orders and bundles for the on-chain venue relayer.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte
}

// NewSigner creates a Signer from a hex secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		domainSep:  domainSeparator(domainName, domainVersion, chainID),
	}, nil
}

// Address returns the account address of the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOrder signs a single order. It returns a 0x-prefixed 65-byte
// signature.
func (s *Signer) SignOrder(o OrderPayload) (string, error) {
	h, err := OrderHash(o)
	if err != nil {
		return "", err
	}
	return s.signDigest(typedDataHash(s.domainSep, h))
}

// SignBundle signs an all-or-nothing bundle of orders valid until deadline
// (Unix seconds). The relayer rejects a bundle if any order fails.
func (s *Signer) SignBundle(orders []OrderPayload, deadline int64) (string, error) {
	hashes := make([][]byte, 0, len(orders))
	for _, o := range orders {
		h, err := OrderHash(o)
		if err != nil {
			return "", err
		}
		hashes = append(hashes, h)
	}
	structHash := ethcrypto.Keccak256(
		bundleTypeHash,
		ethcrypto.Keccak256(hashes...),
		bigIntTo32Bytes(big.NewInt(deadline)),
	)
	return s.signDigest(typedDataHash(s.domainSep, structHash))
}

// OrderHash returns the struct hash of an order.
func OrderHash(o OrderPayload) ([]byte, error) {
	price, ok := new(big.Int).SetString(o.Price, 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid price %q", o.Price)
	}
	base, ok := new(big.Int).SetString(o.BaseAmount, 10)
	if !ok || base.Sign() <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid baseAmount %q", o.BaseAmount)
	}
	nonce, ok := new(big.Int).SetString(o.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid nonce %q", o.Nonce)
	}
	if o.Side != 0 && o.Side != 1 {
		return nil, fmt.Errorf("crypto/signer: invalid side %d", o.Side)
	}
	reduceOnly := int64(0)
	if o.ReduceOnly {
		reduceOnly = 1
	}

	return ethcrypto.Keccak256(
		perpOrderTypeHash,
		ethcrypto.Keccak256([]byte(o.ClientOrderID)),
		bigIntTo32Bytes(new(big.Int).SetUint64(o.Market)),
		bigIntTo32Bytes(big.NewInt(int64(o.Side))),
		bigIntTo32Bytes(price),
		bigIntTo32Bytes(base),
		bigIntTo32Bytes(big.NewInt(reduceOnly)),
		bigIntTo32Bytes(nonce),
	), nil
}

// RecoverAddress returns the address that produced sig over an order. It is
// used to check signatures before submission.
func (s *Signer) RecoverAddress(o OrderPayload, sig string) (common.Address, error) {
	h, err := OrderHash(o)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature")
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(typedDataHash(s.domainSep, h), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		bigIntTo32Bytes(big.NewInt(chainID)),
	)
}

// typedDataHash computes keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataHash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// signDigest signs a 32-byte digest and returns r || s || v hex encoded,
// with v in {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
