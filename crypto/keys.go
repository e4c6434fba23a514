package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 account string.
const AddressPrefix = "rum"

// AddressLen is the raw account payload length in bytes.
const AddressLen = 20

// Address identifies a protocol account. The zero value is the anonymous
// caller, which every mutating operation rejects.
type Address struct {
	raw [AddressLen]byte
}

// NewAddress builds an address from a raw 20-byte payload.
func NewAddress(b []byte) (Address, error) {
	if len(b) != AddressLen {
		return Address{}, fmt.Errorf("address payload must be %d bytes, got %d", AddressLen, len(b))
	}
	var a Address
	copy(a.raw[:], b)
	return a, nil
}

// Anonymous returns the anonymous caller address.
func Anonymous() Address {
	return Address{}
}

// IsAnonymous reports whether the address is the anonymous caller.
func (a Address) IsAnonymous() bool {
	return a.raw == [AddressLen]byte{}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.raw[:], 8, 5, true)
	if err != nil {
		return ""
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		return ""
	}
	return encoded
}

// Bytes returns a copy of the raw payload.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLen)
	copy(out, a.raw[:])
	return out
}

// Raw returns the payload as a fixed array, suitable for storage records.
func (a Address) Raw() [AddressLen]byte {
	return a.raw
}

// DecodeAddress parses a bech32 account string with the rum prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(conv)
}

// MarshalText renders the bech32 form for config and JSON payloads.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the bech32 form.
func (a *Address) UnmarshalText(text []byte) error {
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(trimmed))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the account address from the public key.
func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	addr, err := NewAddress(addrBytes)
	if err != nil {
		return Address{}
	}
	return addr
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
