package money

import (
	"encoding/json"
	"testing"
)

func TestParseAndString(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"1.5", "1.5"},
		{"10", "10"},
		{"0", "0"},
		{"-2.25", "-2.25"},
	} {
		a, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got := a.String(); got != tc.want {
			t.Fatalf("Parse(%q).String() = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := Parse("abc"); err == nil {
		t.Fatalf("expected error for malformed amount")
	}
}

func TestMulInt64IsExact(t *testing.T) {
	rate := MustParse("1.5")

	// 6 ticks at 1.5/sec must be exactly 9, not 8.999....
	total := rate.MulInt64(6)
	if total.String() != "9.0" && total.String() != "9" {
		t.Fatalf("6 * 1.5 = %s, want 9", total)
	}
	if total.Cmp(FromInt64(9)) != 0 {
		t.Fatalf("6 * 1.5 != 9 (got %s)", total)
	}
}

func TestRepeatedAdditionEqualsRecomputedTotal(t *testing.T) {
	rate := MustParse("0.1")

	sum := Zero()
	for i := 0; i < 10; i++ {
		sum = sum.Add(rate)
	}
	if sum.Cmp(rate.MulInt64(10)) != 0 {
		t.Fatalf("10 additions of 0.1 (%s) != 10 * 0.1 (%s)", sum, rate.MulInt64(10))
	}
	if sum.Cmp(FromInt64(1)) != 0 {
		t.Fatalf("expected exactly 1, got %s", sum)
	}
}

func TestComparisons(t *testing.T) {
	balance := MustParse("1.0")
	rate := MustParse("1.5")

	if !balance.LessThan(rate) {
		t.Fatalf("expected 1.0 < 1.5")
	}
	if rate.LessThan(balance) {
		t.Fatalf("expected 1.5 not < 1.0")
	}
	if !MustParse("-1").IsNegative() {
		t.Fatalf("expected -1 to be negative")
	}
	if Zero().IsNegative() {
		t.Fatalf("zero is not negative")
	}
	if !MustParse("0.01").IsPositive() {
		t.Fatalf("expected 0.01 to be positive")
	}
}

func TestSubCanGoNegative(t *testing.T) {
	got := FromInt64(1).Sub(MustParse("1.5"))
	if !got.IsNegative() {
		t.Fatalf("1 - 1.5 should be negative, got %s", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Rate Amount `json:"rate"`
	}

	b, err := json.Marshal(payload{Rate: MustParse("1.5")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"rate":"1.5"}` {
		t.Fatalf("unexpected JSON: %s", b)
	}

	var back payload
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Rate.Cmp(MustParse("1.5")) != 0 {
		t.Fatalf("round trip changed value: %s", back.Rate)
	}
}

func TestScan(t *testing.T) {
	var a Amount
	if err := a.Scan([]byte("12.75")); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if a.String() != "12.75" {
		t.Fatalf("scan bytes = %s", a)
	}
	if err := a.Scan("3"); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if a.Cmp(FromInt64(3)) != 0 {
		t.Fatalf("scan string = %s", a)
	}
	if err := a.Scan(true); err == nil {
		t.Fatalf("expected error for unsupported scan type")
	}
}
