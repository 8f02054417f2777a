package domain

import "testing"

func TestParseTier(t *testing.T) {
	cases := map[string]Tier{
		"free":   TierFree,
		"artist": TierArtist,
		"pro":    TierPro,
		"":       TierFree,
		"PRO":    TierFree,
		"gold":   TierFree,
	}
	for in, want := range cases {
		if got := ParseTier(in); got != want {
			t.Errorf("ParseTier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTierValid(t *testing.T) {
	for _, tier := range []Tier{TierFree, TierArtist, TierPro} {
		if !tier.Valid() {
			t.Errorf("%q should be valid", tier)
		}
	}
	if Tier("gold").Valid() {
		t.Error("unknown tier should be invalid")
	}
}
