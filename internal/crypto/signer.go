package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

const (
	domainName    = "OracleAdapter"
	domainVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// AdapterCall(string method,string path,bytes32 bodyHash,string nonce,uint256 expires)
	adapterCallTypeHash = ethcrypto.Keccak256(
		[]byte("AdapterCall(string method,string path,bytes32 bodyHash,string nonce,uint256 expires)"),
	)
)

// Call is the signed envelope of one HTTP request: the route, a hash of the
// exact body bytes, a single-use nonce and an expiry in unix seconds.
type Call struct {
	Method  string
	Path    string
	Body    []byte
	Nonce   string
	Expires int64
}

// Signer signs call envelopes with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer for the given chain id.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the address callers will be identified as.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignCall returns the 65-byte hex signature (v in {27,28}) over c.
func (s *Signer) SignCall(c Call) (string, error) {
	digest := eip712Hash(s.domainSep, callStructHash(c))
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", errJoin(domain.ErrSigningFailed, err))
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}

// RecoverCall returns the address that produced sigHex over c.
func RecoverCall(chainID int64, c Call, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", errJoin(domain.ErrInvalidSigned, err))
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes: %w", len(sig), domain.ErrInvalidSigned)
	}
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := eip712Hash(domainSeparator(chainID), callStructHash(c))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", errJoin(domain.ErrInvalidSigned, err))
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(domainName)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
	)
}

func callStructHash(c Call) []byte {
	return ethcrypto.Keccak256(
		adapterCallTypeHash,
		ethcrypto.Keccak256([]byte(c.Method)),
		ethcrypto.Keccak256([]byte(c.Path)),
		ethcrypto.Keccak256(c.Body),
		ethcrypto.Keccak256([]byte(c.Nonce)),
		common.LeftPadBytes(big.NewInt(c.Expires).Bytes(), 32),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}
