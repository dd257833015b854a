package identity

import "testing"

func TestNormalizeIP(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"::1", "127.0.0.1"},
		{"::ffff:192.168.1.20", "192.168.1.20"},
		{"192.168.1.20", "192.168.1.20"},
		{"2001:db8::1", "2001:db8::1"},
		{"auto-system", "auto-system"},
		{"unknown", "unknown"},
	}
	for _, c := range cases {
		if got := NormalizeIP(c.in); got != c.want {
			t.Errorf("NormalizeIP(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
