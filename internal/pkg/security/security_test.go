package security

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"digit", "1", false},
		{"two digits", "12", false},
		{"word", "happy", false},
		{"empty", "", true},
		{"space", "1 2", true},
		{"newline", "1\n", true},
		{"null byte", "1\x00", true},
		{"invalid utf8", "\xff", true},
		{"too long", strings.Repeat("a", MaxKeyLength+1), true},
		{"max length", strings.Repeat("a", MaxKeyLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil {
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Field != "key" {
					t.Errorf("error = %#v, want *ValidationError for key", err)
				}
			}
		})
	}
}

func TestValidateAction(t *testing.T) {
	if err := ValidateAction(""); err != nil {
		t.Errorf("empty action: %v", err)
	}
	if err := ValidateAction("Happy"); err != nil {
		t.Errorf("Happy: %v", err)
	}
	if err := ValidateAction(strings.Repeat("x", MaxActionLength+1)); err == nil {
		t.Error("expected error for long action")
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "7", "7"},
		{"newline", "7\nlevel=ERROR", "7\\nlevel=ERROR"},
		{"carriage return", "a\rb", "a\\rb"},
		{"tab", "a\tb", "a\\tb"},
		{"control", "a\x00\x07b", "ab"},
		{"unicode", "😀 ok", "😀 ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.input); got != tt.want {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	long := SanitizeForLogWithLength(strings.Repeat("a", 50), 10)
	if long != strings.Repeat("a", 10)+"..." {
		t.Errorf("truncated = %q", long)
	}
}

func TestMaskSensitiveHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Sec-WebSocket-Key", "abc")
	h.Set("X-Auth-Token", "t")
	h.Set("User-Agent", "facectl")

	masked := MaskSensitiveHeaders(h)
	for _, name := range []string{"Authorization", "Sec-Websocket-Key", "X-Auth-Token"} {
		if got := masked.Get(name); got != "[REDACTED]" {
			t.Errorf("%s = %q, want redacted", name, got)
		}
	}
	if masked.Get("User-Agent") != "facectl" {
		t.Errorf("User-Agent = %q", masked.Get("User-Agent"))
	}
	if h.Get("Authorization") != "Bearer secret" {
		t.Error("original headers modified")
	}
	if MaskSensitiveHeaders(nil) != nil {
		t.Error("nil headers should stay nil")
	}
}
