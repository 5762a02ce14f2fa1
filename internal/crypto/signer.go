package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // Cosmos account addresses are defined over RIPEMD-160.

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Signer holds a secp256k1 account key and its bech32 address.
type Signer struct {
	key     *ecdsa.PrivateKey
	pubKey  []byte
	address string
}

// NewSigner parses a hex private key and derives the account address with
// the given bech32 prefix (e.g. "orai").
func NewSigner(privateKeyHex, prefix string) (*Signer, error) {
	k, err := NormalizeKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	key, err := ethcrypto.HexToECDSA(k)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	pub := ethcrypto.CompressPubkey(&key.PublicKey)
	addr, err := AddressFromPubKey(pub, prefix)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, pubKey: pub, address: addr}, nil
}

// Address returns the bech32 account address.
func (s *Signer) Address() string { return s.address }

// PubKey returns the 33-byte compressed public key.
func (s *Signer) PubKey() []byte {
	out := make([]byte, len(s.pubKey))
	copy(out, s.pubKey)
	return out
}

// Sign returns the 64-byte R||S signature over sha256(msg), as expected by
// SIGN_MODE_DIRECT.
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := ethcrypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	// Drop the recovery id.
	return sig[:64], nil
}

// AddressFromPubKey encodes ripemd160(sha256(pubkey)) as bech32.
func AddressFromPubKey(pubKey []byte, prefix string) (string, error) {
	sha := sha256.Sum256(pubKey)
	h := ripemd160.New()
	h.Write(sha[:])
	addr, err := bech32.EncodeFromBase256(prefix, h.Sum(nil))
	if err != nil {
		return "", fmt.Errorf("crypto: bech32 encode: %w", err)
	}
	return addr, nil
}
