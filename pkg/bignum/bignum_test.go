package bignum

import "testing"

func TestFromHexCaseInsensitiveAndFixedWidth(t *testing.T) {
	a, err := FromHex("FF")
	if err != nil {
		t.Fatalf("FromHex upper: %v", err)
	}
	b, err := FromHex("ff")
	if err != nil {
		t.Fatalf("FromHex lower: %v", err)
	}
	if a.Cmp(b) != 0 {
		t.Fatalf("expected case-insensitive parse to agree")
	}
	if len(a.Hex()) != Width {
		t.Fatalf("expected %d-digit hex, got %d", Width, len(a.Hex()))
	}
}

func TestFromHexLeadingZerosIgnoredOnParse(t *testing.T) {
	a, err := FromHex("00ff")
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	b, err := FromHex("ff")
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if a.Hex() != b.Hex() {
		t.Fatalf("expected fixed-width hex to be identical regardless of input padding")
	}
}

func TestFromHexRejectsOutOfRange(t *testing.T) {
	if _, err := FromHex("-1"); err == nil {
		t.Fatalf("expected error for negative value")
	}
	tooBig := ""
	for i := 0; i < Width+1; i++ {
		tooBig += "f"
	}
	if _, err := FromHex(tooBig); err == nil {
		t.Fatalf("expected error for value exceeding 256 bits")
	}
}

func TestArithmeticAgreesWithNaturalNumbers(t *testing.T) {
	a := FromUint64(10)
	b := FromUint64(3)

	if got := a.Add(b); got.Cmp(FromUint64(13)) != 0 {
		t.Fatalf("10+3: expected 13, got %s", got.Hex())
	}
	if got := a.Sub(b); got.Cmp(FromUint64(7)) != 0 {
		t.Fatalf("10-3: expected 7, got %s", got.Hex())
	}
	if got := a.Mul(b); got.Cmp(FromUint64(30)) != 0 {
		t.Fatalf("10*3: expected 30, got %s", got.Hex())
	}
	if got := a.Div(b); got.Cmp(FromUint64(3)) != 0 {
		t.Fatalf("10/3: expected 3, got %s", got.Hex())
	}
}

func TestSubUnsignedSaturatesAtZero(t *testing.T) {
	a := FromUint64(3)
	b := FromUint64(10)
	got := a.Sub(b)
	if !got.IsZero() {
		t.Fatalf("expected underflow to saturate at zero, got %s", got.Hex())
	}
}

func TestDivByZeroReturnsZero(t *testing.T) {
	a := FromUint64(10)
	got := a.Div(Zero)
	if !got.IsZero() {
		t.Fatalf("expected division by zero to return zero, got %s", got.Hex())
	}
}

func TestAddClampsAtMaxUint256(t *testing.T) {
	max, err := FromHex(maxHexAllOnes())
	if err != nil {
		t.Fatalf("FromHex max: %v", err)
	}
	got := max.Add(FromUint64(1))
	if got.Cmp(max) != 0 {
		t.Fatalf("expected overflow to clamp at max uint256, got %s", got.Hex())
	}
}

func maxHexAllOnes() string {
	s := ""
	for i := 0; i < Width; i++ {
		s += "f"
	}
	return s
}

func TestCompareOrdering(t *testing.T) {
	small := FromUint64(1)
	big := FromUint64(2)
	if !small.LessThan(big) {
		t.Fatalf("expected 1 < 2")
	}
	if !big.GreaterThan(small) {
		t.Fatalf("expected 2 > 1")
	}
	if small.Cmp(FromUint64(1)) != 0 {
		t.Fatalf("expected equal values to compare as 0")
	}
}

func TestBytes32RoundTrip(t *testing.T) {
	a := FromUint64(0xdeadbeef)
	b := FromBytes32(a.Bytes32())
	if a.Cmp(b) != 0 {
		t.Fatalf("expected Bytes32 round-trip to preserve value")
	}
}

func TestMulFloatTruncatesAndClampsNonNegative(t *testing.T) {
	a := FromUint64(100)
	got := a.MulFloat(0.5)
	if got.Cmp(FromUint64(50)) != 0 {
		t.Fatalf("expected 100*0.5 = 50, got %s", got.Hex())
	}
	neg := a.MulFloat(-1)
	if !neg.IsZero() {
		t.Fatalf("expected negative ratio to clamp to zero, got %s", neg.Hex())
	}
}

func TestMarshalUnmarshalJSON(t *testing.T) {
	a := FromUint64(255)
	data, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var b BigNum
	if err := b.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if a.Cmp(b) != 0 {
		t.Fatalf("expected JSON round-trip to preserve value")
	}
}
