package safeguard

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://example.com/api", nil},
		{"http://93.184.216.34/", nil},
		{"ftp://example.com", ErrUnsafeScheme},
		{"http://127.0.0.1:8080/", ErrSSRF},
		{"http://10.1.2.3/", ErrSSRF},
		{"http://192.168.1.1/", ErrSSRF},
		{"http://[::1]/", ErrSSRF},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.wantErr == nil && err != nil {
			t.Errorf("ValidateURL(%q): unexpected error %v", tt.url, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateURL(%q): got %v, want %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"page-1", "site.example.com", "abc_DEF.9"} {
		if err := ValidateIdentifier(ok); err != nil {
			t.Errorf("ValidateIdentifier(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a b", "x/y", "q;drop", strings.Repeat("a", 257)} {
		if err := ValidateIdentifier(bad); err == nil {
			t.Errorf("ValidateIdentifier(%q): expected error", bad)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil || string(data) != "hello" {
		t.Fatalf("within limit: %q, %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("too much data"), 4); err == nil {
		t.Fatal("over limit: expected error")
	}
}
