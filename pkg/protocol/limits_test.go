package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateLengths(t *testing.T) {
	tests := []struct {
		name  string
		check func() error
		want  error
	}{
		{"empty nick", func() error { return ValidateNick("") }, nil},
		{"nick at limit", func() error { return ValidateNick(strings.Repeat("a", MaxNickLength)) }, nil},
		{"nick over limit", func() error { return ValidateNick(strings.Repeat("a", MaxNickLength+1)) }, ErrNickTooLong},
		{"multibyte nick counted in bytes", func() error { return ValidateNick(strings.Repeat("é", MaxNickLength/2+1)) }, ErrNickTooLong},
		{"text at limit", func() error { return ValidateText(strings.Repeat("a", MaxTextLength)) }, nil},
		{"text over limit", func() error { return ValidateText(strings.Repeat("a", MaxTextLength+1)) }, ErrTextTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if tt.want == nil && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckLimits(t *testing.T) {
	if err := CheckLimits(TransportConfig(nil)); err != nil {
		t.Fatalf("default config: %v", err)
	}

	tests := []struct {
		name    string
		clients int
		maxSize int
	}{
		{"too many clients for the message size", 1000, 0},
		{"message size too small for one text", 1, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := TransportConfig(nil)
			tc.MaxClients = tt.clients
			if tt.maxSize > 0 {
				tc.Channels[ReliableChannel].MaxMessageSize = tt.maxSize
			}
			if err := CheckLimits(tc); err == nil {
				t.Error("CheckLimits accepted a config whose largest events cannot be sent")
			}
		})
	}

	tc := TransportConfig(nil)
	tc.Channels = nil
	if err := CheckLimits(tc); err == nil {
		t.Error("CheckLimits accepted a config without the reliable channel")
	}
}
