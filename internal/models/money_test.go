package models

import "testing"

func TestNewCreditsFromString(t *testing.T) {
	cases := []struct {
		in   string
		want Credits
	}{
		{"28.00", 2800},
		{"0.01", 1},
		{"-5.50", -550},
		{"100", 10000},
		{"  12.34  ", 1234},
		{"0.1", 10},
	}
	for _, c := range cases {
		got, err := NewCreditsFromString(c.in)
		if err != nil {
			t.Errorf("NewCreditsFromString(%q) error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NewCreditsFromString(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNewCreditsFromStringRejectsMalformed(t *testing.T) {
	cases := []string{"", "abc", "1.234", "1.2.3", "$5.00"}
	for _, in := range cases {
		if _, err := NewCreditsFromString(in); err == nil {
			t.Errorf("NewCreditsFromString(%q) expected error, got none", in)
		}
	}
}

func TestMustCreditsPanicsOnInvalid(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected MustCredits to panic on invalid input")
		}
	}()
	MustCredits("not-a-number")
}

func TestCreditsStringRoundTrip(t *testing.T) {
	cases := []struct {
		c    Credits
		want string
	}{
		{0, "0.00"},
		{2800, "28.00"},
		{-550, "-5.50"},
		{1, "0.01"},
	}
	for _, c := range cases {
		if got := c.c.String(); got != c.want {
			t.Errorf("Credits(%d).String() = %q, want %q", c.c, got, c.want)
		}
	}
}

func TestCreditsJSONRoundTrip(t *testing.T) {
	orig := MustCredits("42.17")
	data, err := orig.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Credits
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != orig {
		t.Errorf("round trip = %s, want %s", got, orig)
	}
}

func TestCreditsArithmetic(t *testing.T) {
	a := MustCredits("10.00")
	b := MustCredits("3.50")

	if got := a.Add(b); got != MustCredits("13.50") {
		t.Errorf("Add = %s, want 13.50", got)
	}
	if got := a.Sub(b); got != MustCredits("6.50") {
		t.Errorf("Sub = %s, want 6.50", got)
	}
	if got := a.Neg(); got != MustCredits("-10.00") {
		t.Errorf("Neg = %s, want -10.00", got)
	}
	if !b.LessThan(a) {
		t.Error("expected 3.50 < 10.00")
	}
	if a.LessThan(b) {
		t.Error("did not expect 10.00 < 3.50")
	}
	if !a.Neg().IsNegative() {
		t.Error("expected -10.00 to be negative")
	}
	if a.IsNegative() {
		t.Error("did not expect 10.00 to be negative")
	}
}

func TestCreditsPercentCeilRoundsUp(t *testing.T) {
	// 33.33 * 2.50% = 0.83325 -> ceils to 0.84
	got := MustCredits("33.33").PercentCeil(250)
	if got != MustCredits("0.84") {
		t.Errorf("PercentCeil = %s, want 0.84", got)
	}
}

func TestCreditsPercentCeilExact(t *testing.T) {
	got := MustCredits("100.00").PercentCeil(250)
	if got != MustCredits("2.50") {
		t.Errorf("PercentCeil = %s, want 2.50", got)
	}
}

func TestCreditsPercentCeilNonPositiveIsZero(t *testing.T) {
	if got := MustCredits("0.00").PercentCeil(250); got != Zero {
		t.Errorf("PercentCeil of zero amount = %s, want 0.00", got)
	}
	if got := MustCredits("-5.00").PercentCeil(250); got != Zero {
		t.Errorf("PercentCeil of negative amount = %s, want 0.00", got)
	}
	if got := MustCredits("100.00").PercentCeil(0); got != Zero {
		t.Errorf("PercentCeil with zero rate = %s, want 0.00", got)
	}
}

func TestUSDCUnitsToCreditsTruncates(t *testing.T) {
	cases := []struct {
		in   USDCUnits
		want Credits
	}{
		{1_000_000, MustCredits("1.00")},   // exact
		{1_009_999, MustCredits("1.00")},   // sub-cent remainder truncated
		{1_010_000, MustCredits("1.01")},
		{0, Zero},
	}
	for _, c := range cases {
		if got := c.in.ToCredits(); got != c.want {
			t.Errorf("USDCUnits(%d).ToCredits() = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestUSDCUnitsString(t *testing.T) {
	if got := USDCUnits(1_500_000).String(); got != "1.500000" {
		t.Errorf("String() = %q, want 1.500000", got)
	}
	if got := USDCUnits(-2_000_000).String(); got != "-2.000000" {
		t.Errorf("String() = %q, want -2.000000", got)
	}
}
