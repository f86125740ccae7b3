// Package bignum provides fixed-width hex-encoded unsigned 256-bit integer
// arithmetic for proof-of-work targets and accumulated chain work.
package bignum

import (
	"fmt"
	"math/big"
	"strings"
)

// Width is the fixed hex-digit width every BigNum is normalized to.
// One representation is used everywhere a target or work value travels:
// leading zeros are never stripped, so string comparison and equality
// checks behave consistently everywhere a BigNum crosses a boundary
// (storage, JSON, logging).
const Width = 64

// Zero is the BigNum representation of 0.
var Zero = FromUint64(0)

// MaxUint256 is 2^256 - 1, the ceiling for any BigNum value.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// BigNum is an arbitrary-precision unsigned integer normalized to a
// fixed-width lowercase hex string on every mutation.
type BigNum struct {
	v *big.Int
}

// FromHex parses a hex string (with or without leading zeros, case
// insensitive) into a BigNum.
func FromHex(s string) (BigNum, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return BigNum{v: big.NewInt(0)}, nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return BigNum{}, fmt.Errorf("bignum: invalid hex %q", s)
	}
	if v.Sign() < 0 {
		return BigNum{}, fmt.Errorf("bignum: negative value %q", s)
	}
	if v.Cmp(maxUint256) > 0 {
		return BigNum{}, fmt.Errorf("bignum: value %q exceeds 256 bits", s)
	}
	return BigNum{v: v}, nil
}

// MustFromHex parses s and panics on error. Intended for constants.
func MustFromHex(s string) BigNum {
	b, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return b
}

// FromUint64 builds a BigNum from a uint64.
func FromUint64(n uint64) BigNum {
	return BigNum{v: new(big.Int).SetUint64(n)}
}

// Hex returns the fixed-width (Width hex digits), lowercase representation.
func (b BigNum) Hex() string {
	if b.v == nil {
		return strings.Repeat("0", Width)
	}
	s := b.v.Text(16)
	if len(s) < Width {
		s = strings.Repeat("0", Width-len(s)) + s
	}
	return s
}

// String implements fmt.Stringer as the fixed-width hex form.
func (b BigNum) String() string { return b.Hex() }

// MarshalJSON encodes the BigNum as its fixed-width hex string.
func (b BigNum) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.Hex() + `"`), nil
}

// UnmarshalJSON decodes a hex string into a BigNum.
func (b *BigNum) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b BigNum) big() *big.Int {
	if b.v == nil {
		return big.NewInt(0)
	}
	return b.v
}

// Add returns b + other, clamped to the 256-bit ceiling.
func (b BigNum) Add(other BigNum) BigNum {
	r := new(big.Int).Add(b.big(), other.big())
	if r.Cmp(maxUint256) > 0 {
		r.Set(maxUint256)
	}
	return BigNum{v: r}
}

// Sub returns b - other. Returns zero if other > b (unsigned saturation).
func (b BigNum) Sub(other BigNum) BigNum {
	r := new(big.Int).Sub(b.big(), other.big())
	if r.Sign() < 0 {
		r.SetUint64(0)
	}
	return BigNum{v: r}
}

// Mul returns b * other, clamped to the 256-bit ceiling.
func (b BigNum) Mul(other BigNum) BigNum {
	r := new(big.Int).Mul(b.big(), other.big())
	if r.Cmp(maxUint256) > 0 {
		r.Set(maxUint256)
	}
	return BigNum{v: r}
}

// Div returns b / other. Division by zero returns zero.
func (b BigNum) Div(other BigNum) BigNum {
	if other.big().Sign() == 0 {
		return BigNum{v: big.NewInt(0)}
	}
	r := new(big.Int).Div(b.big(), other.big())
	return BigNum{v: r}
}

// Cmp compares b to other: -1, 0, or 1.
func (b BigNum) Cmp(other BigNum) int {
	return b.big().Cmp(other.big())
}

// LessThan returns true if b < other.
func (b BigNum) LessThan(other BigNum) bool { return b.Cmp(other) < 0 }

// GreaterThan returns true if b > other.
func (b BigNum) GreaterThan(other BigNum) bool { return b.Cmp(other) > 0 }

// IsZero returns true if b == 0.
func (b BigNum) IsZero() bool { return b.big().Sign() == 0 }

// MulFloat multiplies b by a floating-point ratio, truncating to an integer.
// Used by KGW retargeting (actualRate/targetRate adjustments).
func (b BigNum) MulFloat(ratio float64) BigNum {
	if ratio < 0 {
		ratio = 0
	}
	f := new(big.Float).SetInt(b.big())
	f.Mul(f, big.NewFloat(ratio))
	r, _ := f.Int(nil)
	if r.Sign() < 0 {
		r.SetUint64(0)
	}
	if r.Cmp(maxUint256) > 0 {
		r.Set(maxUint256)
	}
	return BigNum{v: r}
}

// Bytes32 returns the value as a 32-byte big-endian array.
func (b BigNum) Bytes32() [32]byte {
	var out [32]byte
	raw := b.big().Bytes()
	copy(out[32-len(raw):], raw)
	return out
}

// FromBytes32 builds a BigNum from a 32-byte big-endian array.
func FromBytes32(b [32]byte) BigNum {
	return BigNum{v: new(big.Int).SetBytes(b[:])}
}
