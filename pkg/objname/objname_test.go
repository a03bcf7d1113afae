package objname

import (
	"strings"
	"testing"
)

func TestSanitizeReplacesIllegalCharacters(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"clean key unchanged", "linux-build-abc123", "linux-build-abc123"},
		{"backslash", `windows\build`, "windows_build"},
		{"question mark", "key?v=2", "key_v=2"},
		{"hash", "key#fragment", "key_fragment"},
		{"single space", "key with spaces", "key_with_spaces"},
		{"whitespace run collapses", "key \t\n end", "key_end"},
		{"mixed", `a\b?c#d e`, "a_b_c_d_e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.key); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestSanitizeStableOnCleanInput(t *testing.T) {
	key := "linux-x64-cargo-0f3b"
	once := Sanitize(key)
	twice := Sanitize(once)
	if once != key {
		t.Errorf("Sanitize changed a clean key: %q -> %q", key, once)
	}
	if twice != once {
		t.Errorf("Sanitize not stable: %q -> %q", once, twice)
	}
}

func TestSanitizeBoundsLength(t *testing.T) {
	long := strings.Repeat("k", MaxLength*3)
	got := Sanitize(long)
	if len(got) > MaxLength {
		t.Fatalf("sanitized name length %d exceeds max %d", len(got), MaxLength)
	}
}

func TestSanitizeLongKeysStayDistinct(t *testing.T) {
	// Two keys identical in their first MaxLength characters must not
	// collide after truncation.
	base := strings.Repeat("x", MaxLength)
	a := Sanitize(base + "-variant-a")
	b := Sanitize(base + "-variant-b")
	if a == b {
		t.Fatalf("distinct long keys collided: %q", a)
	}
	if len(a) > MaxLength || len(b) > MaxLength {
		t.Fatalf("lengths exceed max: %d, %d", len(a), len(b))
	}
}

func TestSanitizeDeterministic(t *testing.T) {
	long := strings.Repeat("abc?", 600)
	if Sanitize(long) != Sanitize(long) {
		t.Fatal("Sanitize is not deterministic for long keys")
	}
}

func TestIsClean(t *testing.T) {
	if !IsClean("plain-key") {
		t.Error("plain-key should be clean")
	}
	if IsClean("has space") {
		t.Error("key with space should not be clean")
	}
	if IsClean(strings.Repeat("a", MaxLength+1)) {
		t.Error("over-length key should not be clean")
	}
}
