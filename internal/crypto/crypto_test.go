package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testKey = "0000000000000000000000000000000000000000000000000000000000000001"

func TestSignerPubKeyAndAddress(t *testing.T) {
	s, err := NewSigner("0x"+testKey, "orai")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	// Private key 1 maps to the curve generator.
	want := "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	if got := hex.EncodeToString(s.PubKey()); got != want {
		t.Fatalf("pubkey=%s want %s", got, want)
	}
	if !strings.HasPrefix(s.Address(), "orai1") {
		t.Fatalf("address=%s", s.Address())
	}
	hrp, data, err := bech32.DecodeToBase256(s.Address())
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if hrp != "orai" || len(data) != 20 {
		t.Fatalf("hrp=%s len=%d", hrp, len(data))
	}
}

func TestSignerSignVerifies(t *testing.T) {
	s, err := NewSigner(testKey, "orai")
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("sign doc bytes")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("sig len=%d want 64", len(sig))
	}
	digest := sha256.Sum256(msg)
	if !ethcrypto.VerifySignature(s.PubKey(), digest[:], sig) {
		t.Fatalf("signature does not verify")
	}
}

func TestNormalizeKey(t *testing.T) {
	if _, err := NormalizeKey("abcd"); err == nil {
		t.Fatalf("short key should fail")
	}
	if _, err := NormalizeKey("zz" + testKey[2:]); err == nil {
		t.Fatalf("non-hex key should fail")
	}
	got, err := NormalizeKey("0x" + strings.ToUpper(testKey))
	if err != nil || got != testKey {
		t.Fatalf("NormalizeKey=(%s,%v)", got, err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2", "orai1test")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if bytes.Contains(blob, []byte(testKey)) {
		t.Fatalf("key file leaks the private key")
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Fatalf("DecryptKey=%s", got)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatalf("wrong password should fail")
	}
}

func TestLoadKeyFromFile(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw", "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil || got != testKey {
		t.Fatalf("LoadKey=(%s,%v)", got, err)
	}
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatalf("empty config should fail")
	}
}
