package model

import "testing"

func TestParseScopes(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    Scopes
		wantErr bool
	}{
		{name: "read only", input: []string{"read"}, want: Scopes{ScopeRead}},
		{name: "read write", input: []string{"read", "write"}, want: Scopes{ScopeRead, ScopeWrite}},
		{name: "dedupe", input: []string{"read", "read"}, want: Scopes{ScopeRead}},
		{name: "unknown scope", input: []string{"admin"}, wantErr: true},
		{name: "empty string entry", input: []string{""}, wantErr: true},
		{name: "empty list", input: nil, want: Scopes{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScopes(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %v", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScopes(%v): %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestScopesRoundTrip(t *testing.T) {
	original := Scopes{ScopeRead, ScopeWrite}

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var scanned Scopes
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !scanned.Has(ScopeRead) || !scanned.Has(ScopeWrite) {
		t.Errorf("round trip lost scopes: %v", scanned)
	}
}

func TestScopesScanRejectsUnknown(t *testing.T) {
	var s Scopes
	if err := s.Scan("read,superuser"); err == nil {
		t.Error("expected error scanning unknown scope")
	}
}

func TestIPListAllows(t *testing.T) {
	tests := []struct {
		name     string
		list     IPList
		clientIP string
		want     bool
	}{
		{name: "empty list allows any", list: nil, clientIP: "10.0.0.1", want: true},
		{name: "member allowed", list: IPList{"10.0.0.1", "10.0.0.2"}, clientIP: "10.0.0.2", want: true},
		{name: "non-member denied", list: IPList{"10.0.0.1"}, clientIP: "192.168.1.5", want: false},
		{name: "unknown client IP allowed", list: IPList{"10.0.0.1"}, clientIP: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.list.Allows(tt.clientIP); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.clientIP, got, tt.want)
			}
		})
	}
}

func TestAPIKeyLimit(t *testing.T) {
	k := &APIKey{RateLimitRPM: 120}
	if got := k.Limit(); got != 120 {
		t.Errorf("Limit() = %d, want 120", got)
	}

	k = &APIKey{}
	if got := k.Limit(); got != DefaultRateLimitRPM {
		t.Errorf("Limit() = %d, want default %d", got, DefaultRateLimitRPM)
	}
}
