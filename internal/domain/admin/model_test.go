package admin

import (
	"errors"
	"testing"
	"time"
)

func TestValidIP(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"192.168.0.1", true},
		{"10.0.0.0/8", true},
		{"0.0.0.0/0", true},
		{"255.255.255.255/32", true},
		{"256.1.1.1", false},
		{"10.0.0.0/33", false},
		{"10.0.0", false},
		{"10.0.0.1/", false},
		{"::1", false},
		{"example.com", false},
	}
	for _, tt := range tests {
		if got := ValidIP(tt.in); got != tt.want {
			t.Errorf("ValidIP(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSecuritySettings_Validate(t *testing.T) {
	s := &SecuritySettings{SessionTimeoutMinutes: 60, AllowedIPs: []string{" 10.0.0.1 ", "", "172.16.0.0/12"}}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.AllowedIPs) != 2 || s.AllowedIPs[0] != "10.0.0.1" {
		t.Errorf("expected trimmed list, got %v", s.AllowedIPs)
	}
	if s.SessionTimeout() != time.Hour {
		t.Errorf("expected 1h, got %s", s.SessionTimeout())
	}

	for _, minutes := range []int{0, 10, 45, 240} {
		s := &SecuritySettings{SessionTimeoutMinutes: minutes}
		if err := s.Validate(); !errors.Is(err, ErrInvalidTimeout) {
			t.Errorf("timeout %d: expected ErrInvalidTimeout, got %v", minutes, err)
		}
	}

	s = &SecuritySettings{SessionTimeoutMinutes: 15, AllowedIPs: []string{"300.0.0.1"}}
	if err := s.Validate(); !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP, got %v", err)
	}
}
