// Package sign implements the delegated-authorization signature scheme.
//
// A user authorizes an on-behalf action by signing a canonical digest with
// their wallet key. The digest is the keccak256 of the tightly packed action
// fields; the signature itself is produced over the standard personal-message
// wrapping of that digest, so ordinary wallet tooling can generate it.
package sign

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PayNativeDigest is the canonical digest for a native-currency payment
// authorization: keccak256(billID || amount || sponsor) with the bill id as
// its decimal string bytes, the amount as a 32-byte big-endian word and the
// sponsor as 20 raw address bytes.
func PayNativeDigest(billID string, amount *big.Int, sponsor common.Address) []byte {
	packed := make([]byte, 0, len(billID)+32+common.AddressLength)
	packed = append(packed, []byte(billID)...)
	packed = append(packed, math.U256Bytes(new(big.Int).Set(amount))...)
	packed = append(packed, sponsor.Bytes()...)
	return gethcrypto.Keccak256(packed)
}

// ActionDigest is the canonical digest for token payments and rejections:
// keccak256(billID || sponsor). The amount is omitted because the ledger
// contract reads it from the bill record.
func ActionDigest(billID string, sponsor common.Address) []byte {
	packed := make([]byte, 0, len(billID)+common.AddressLength)
	packed = append(packed, []byte(billID)...)
	packed = append(packed, sponsor.Bytes()...)
	return gethcrypto.Keccak256(packed)
}

// Verify reports whether signature recovers to the claimed address over the
// personal-message wrapping of digest. Malformed signatures verify false,
// never error; the caller treats any false as an authorization failure.
func Verify(digest []byte, claimed common.Address, signature []byte) bool {
	if len(signature) != gethcrypto.SignatureLength {
		return false
	}
	sig := make([]byte, gethcrypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return false
	}
	pub, err := gethcrypto.SigToPub(accounts.TextHash(digest), sig)
	if err != nil {
		return false
	}
	return gethcrypto.PubkeyToAddress(*pub) == claimed
}
