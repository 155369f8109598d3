package semver

import "testing"

func TestSatisfies(t *testing.T) {
	tests := []struct {
		version string
		rng     string
		want    bool
	}{
		{"1.1.0", "^1.0.0", true},
		{"2.0.0", "^1.0.0", false},
		{"1.0.5", "~1.0.0", true},
		{"1.1.0", "~1.0.0", false},
		{"15.2.0", "15.x", true},
		{"16.0.0", "15.x", false},
		{"0.14.2", "^0.14.0", true},
		{"0.15.0", "^0.14.0", false},
		{"1.2.3", "1.2.3", true},
		{"1.2.4", "1.2.3", false},
		{"2.0.0", "*", true},
	}

	for _, tt := range tests {
		v, err := ParseVersion(tt.version)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tt.version, err)
		}
		r, err := ParseRange(tt.rng)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", tt.rng, err)
		}
		if got := Satisfies(v, r); got != tt.want {
			t.Errorf("Satisfies(%s, %s) = %v, want %v", tt.version, tt.rng, got, tt.want)
		}
	}
}

func TestParseRangeBadVersionSpec(t *testing.T) {
	_, err := ParseRange("not a range!!")
	if err == nil {
		t.Fatal("expected error for malformed range")
	}
	var bad *BadVersionSpec
	if !isBadVersionSpec(err, &bad) {
		t.Fatalf("expected *BadVersionSpec, got %T: %v", err, err)
	}
}

func isBadVersionSpec(err error, target **BadVersionSpec) bool {
	if b, ok := err.(*BadVersionSpec); ok {
		*target = b
		return true
	}
	return false
}

func TestParseVersionBadVersionSpec(t *testing.T) {
	_, err := ParseVersion("not-a-version")
	if err == nil {
		t.Fatal("expected error for malformed version")
	}
}
