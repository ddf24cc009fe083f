package payment

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Domain is the EIP-712 signing domain for the payment asset contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

// Authorization is the TransferWithAuthorization message: an ERC-20 transfer
// the payee may settle within [ValidAfter, ValidBefore] without the payer
// submitting a transaction.
type Authorization struct {
	From        string   // hex40 wallet address
	To          string   // hex40 payee address
	Value       *big.Int // smallest-denomination amount
	ValidAfter  *big.Int // unix seconds
	ValidBefore *big.Int // unix seconds
	Nonce       [32]byte
}

var (
	domainTypeHash   = keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	transferTypeHash = keccak256([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a plain 0x-prefixed 40-hex address.
func ValidAddress(s string) bool {
	return addressRe.MatchString(s)
}

// NormalizeAddress accepts a plain hex40 address or a CAIP account id
// ("eip155:8453:0x…") and returns the bare address.
func NormalizeAddress(s string) (string, error) {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if !ValidAddress(s) {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return strings.ToLower(s), nil
}

// ChainID parses a network identifier into an EVM chain id. CAIP-style
// "eip155:<n>" is preferred; the bare names "base" and "base-sepolia" are
// accepted for compatibility. Anything else defaults to Base mainnet.
func ChainID(network string) int64 {
	if rest, ok := strings.CutPrefix(network, "eip155:"); ok {
		n := new(big.Int)
		if _, ok := n.SetString(rest, 10); ok && n.IsInt64() {
			return n.Int64()
		}
	}
	switch network {
	case "base-sepolia":
		return 84532
	case "base":
		return 8453
	}
	return 8453
}

// Digest computes the EIP-712 signing digest
// keccak256(0x1901 || domainSeparator || structHash) for the authorization.
func Digest(d Domain, a Authorization) ([32]byte, error) {
	from, err := addressBytes(a.From)
	if err != nil {
		return [32]byte{}, fmt.Errorf("from: %w", err)
	}
	to, err := addressBytes(a.To)
	if err != nil {
		return [32]byte{}, fmt.Errorf("to: %w", err)
	}
	contract, err := addressBytes(d.VerifyingContract)
	if err != nil {
		return [32]byte{}, fmt.Errorf("verifyingContract: %w", err)
	}

	nameHash := keccak256([]byte(d.Name))
	versionHash := keccak256([]byte(d.Version))
	domainSep := keccak256(
		domainTypeHash[:],
		nameHash[:],
		versionHash[:],
		uint256Bytes(big.NewInt(d.ChainID)),
		leftPad20(contract),
	)

	structHash := keccak256(
		transferTypeHash[:],
		leftPad20(from),
		leftPad20(to),
		uint256Bytes(a.Value),
		uint256Bytes(a.ValidAfter),
		uint256Bytes(a.ValidBefore),
		a.Nonce[:],
	)

	digest := keccak256([]byte{0x19, 0x01}, domainSep[:], structHash[:])
	return digest, nil
}

func keccak256(chunks ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func addressBytes(addr string) ([]byte, error) {
	if !ValidAddress(addr) {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	return hex.DecodeString(addr[2:])
}

// leftPad20 pads a 20-byte address to the 32-byte ABI word.
func leftPad20(addr []byte) []byte {
	out := make([]byte, 32)
	copy(out[12:], addr)
	return out
}

func uint256Bytes(v *big.Int) []byte {
	out := make([]byte, 32)
	if v != nil {
		v.FillBytes(out)
	}
	return out
}
