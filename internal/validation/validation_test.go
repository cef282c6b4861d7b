package validation

import "testing"

func TestEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"simple", "a@x.com", false},
		{"plus tag", "user+tag@example.com", false},
		{"dots and dashes", "first.last-name@sub.example.com", false},
		{"underscore", "user_name@example.com", false},
		{"leading space trimmed", "  a@x.com  ", false},
		{"empty", "", true},
		{"no at sign", "ax.com", true},
		{"no local part", "@x.com", true},
		{"no domain", "a@", true},
		{"space inside", "a b@x.com", true},
		{"double at", "a@@x.com", true},
		{"illegal char", "a!b@x.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Email(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("Email(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"A@X.COM", "a@x.com"},
		{"  MiXeD@Example.Com ", "mixed@example.com"},
		{"already@lower.com", "already@lower.com"},
	}

	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
