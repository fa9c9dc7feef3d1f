package model

import (
	"errors"
	"testing"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: " User@Example.COM ", want: "user@example.com"},
		{in: "", wantErr: true},
		{in: "user@localhost", wantErr: true},
		{in: "Name <user@example.com>", wantErr: true},
		{in: "a@b.c, d@e.f", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeEmail(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("%q: expected validation error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%q: expected %q, got %q (%v)", tt.in, tt.want, got, err)
		}
	}
}
