package session

import "testing"

func TestIDStringFormat(t *testing.T) {
	id := ID(1)
	if got, want := id.String(), "sess-00000001"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseIDRoundTrip(t *testing.T) {
	for _, id := range []ID{0, 1, 255, 0xdeadbeef} {
		s := id.String()
		got, err := ParseID(s)
		if err != nil {
			t.Fatalf("ParseID(%q): %v", s, err)
		}
		if got != id {
			t.Errorf("ParseID(%q) = %d, want %d", s, got, id)
		}
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	cases := []string{"", "sess-", "sess-zzzz", "00000001", "sess-00000001-extra"}
	for _, c := range cases {
		if _, err := ParseID(c); err == nil {
			t.Errorf("ParseID(%q): expected error, got nil", c)
		}
	}
}
