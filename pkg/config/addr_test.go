package config

import "testing"

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "127.0.0.1:5000"},
		{"6000", "127.0.0.1:6000"},
		{":6000", "127.0.0.1:6000"},
		{"chat.example", "chat.example:5000"},
		{"chat.example:6000", "chat.example:6000"},
		{"chat.example:http", "chat.example:5000"},
		{"  10.0.0.2:7000 ", "10.0.0.2:7000"},
		{"::1", "[::1]:5000"},
		{"[::1]:6000", "[::1]:6000"},
	}

	for _, tt := range tests {
		if got := NormalizeAddr(tt.in, "127.0.0.1", "5000"); got != tt.want {
			t.Errorf("NormalizeAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
