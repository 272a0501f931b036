package validation

import (
	"strings"
	"testing"
	"time"
)

func TestValidateElementID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "caller", false},
		{"with dash and dot", "video-call.1", false},
		{"empty", "", true},
		{"slash", "room/member", true},
		{"space", "my room", true},
		{"too long", strings.Repeat("a", MaxElementIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateElementID("member", tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateElementID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCallbackURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http", "http://127.0.0.1:9099/callbacks", false},
		{"https", "https://example.com/hook", false},
		{"redis channel", "redis://medea-callbacks", false},
		{"grpc", "grpc://127.0.0.1:9099", true},
		{"no host", "http://", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCallbackURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCallbackURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("ws://127.0.0.1:8080"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateURL("ftp://127.0.0.1"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestValidateNonNegativeDuration(t *testing.T) {
	if err := ValidateNonNegativeDuration(0, "idle_timeout"); err != nil {
		t.Errorf("zero duration must be valid: %v", err)
	}
	if err := ValidateNonNegativeDuration(-time.Second, "idle_timeout"); err == nil {
		t.Error("expected error for negative duration")
	}
}
