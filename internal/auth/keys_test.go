package auth

import "testing"

func TestHashKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "whitespace only is empty",
			input:    "  \n",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashKey(tt.input); got != tt.expected {
				t.Errorf("HashKey(%q) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}

	if HashKey("  service-secret  ") != HashKey("service-secret") {
		t.Error("expected surrounding whitespace to be ignored")
	}
	if len(HashKey("service-secret")) != 64 {
		t.Error("expected a 64-char hex digest")
	}
}

func TestSecretMatches(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		secret string
		want   bool
	}{
		{"equal", "s3cr3t", "s3cr3t", true},
		{"different", "guess", "s3cr3t", false},
		{"prefix", "s3c", "s3cr3t", false},
		{"empty secret never matches", "", "", false},
		{"empty token", "", "s3cr3t", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SecretMatches(tt.token, tt.secret); got != tt.want {
				t.Errorf("SecretMatches(%q, %q) = %v, want %v", tt.token, tt.secret, got, tt.want)
			}
		})
	}
}
