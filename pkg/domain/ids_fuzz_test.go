package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseUserID checks parsing never panics and valid IDs round-trip.
func FuzzParseUserID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE users;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseUserID(input)
		if err == nil {
			roundTrip, err2 := ParseUserID(id.String())
			if err2 != nil {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed ID value")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseReferenceNumber checks accepted references always have the 12-digit shape.
func FuzzParseReferenceNumber(f *testing.F) {
	f.Add("123456789012")
	f.Add(" 123456789012 ")
	f.Add("12345678901")
	f.Add("１２３４５６７８９０１２")
	f.Add("")

	f.Fuzz(func(t *testing.T, input string) {
		ref, err := ParseReferenceNumber(input)
		if err != nil {
			return
		}
		if len(ref) != 12 {
			t.Errorf("accepted reference with length %d", len(ref))
		}
		for _, r := range ref.String() {
			if r < '0' || r > '9' {
				t.Errorf("accepted non-ASCII-digit rune %q", r)
			}
		}
	})
}
