package auth

import (
	"context"
	"strings"
	"testing"
)

func TestParseAuthorization(t *testing.T) {
	tests := []struct {
		header string
		want   Credential
		ok     bool
	}{
		{"Bearer abc", Credential{Scheme: "Bearer", Token: "abc"}, true},
		{"bearer abc", Credential{Scheme: "Bearer", Token: "abc"}, true},
		{"Basic dXNlcjpwdw==", Credential{Scheme: "Basic", Token: "dXNlcjpwdw=="}, true},
		{"raw-token", Credential{Scheme: "Bearer", Token: "raw-token"}, true},
		{"Bearer ", Credential{}, false},
		{"", Credential{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := ParseAuthorization(tt.header)
			if ok != tt.ok {
				t.Fatalf("ParseAuthorization(%q) ok = %v, want %v", tt.header, ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("ParseAuthorization(%q) = %+v, want %+v", tt.header, got, tt.want)
			}
		})
	}
}

func TestResolvePrefersCallerCredential(t *testing.T) {
	service := ServiceCredential("svc")

	if got := Resolve(context.Background(), service).Header(); got != "Bearer svc" {
		t.Fatalf("without caller credential: got %q", got)
	}

	ctx := ContextWithCredential(context.Background(), Credential{Scheme: "Bearer", Token: "caller"})
	if got := Resolve(ctx, service).Header(); got != "Bearer caller" {
		t.Fatalf("with caller credential: got %q", got)
	}

	empty := ContextWithCredential(context.Background(), Credential{})
	if got := Resolve(empty, service).Header(); got != "Bearer svc" {
		t.Fatalf("with empty caller credential: got %q", got)
	}
	if !Resolve(context.Background(), ServiceCredential("")).IsZero() {
		t.Fatal("expected zero credential when none is configured")
	}
}

func TestCredentialStringRedacts(t *testing.T) {
	c := Credential{Scheme: "Bearer", Token: "secret"}
	if strings.Contains(c.String(), "secret") {
		t.Fatalf("String() leaks the token: %q", c.String())
	}
	if got := (Credential{}).String(); got != "<none>" {
		t.Fatalf("String() = %q, want <none>", got)
	}
}
