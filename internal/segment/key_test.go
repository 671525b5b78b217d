package segment

import "testing"

func TestGenerateKeyIsUniqueAndNonEmpty(t *testing.T) {
	a := GenerateKey()
	b := GenerateKey()
	if a == "" || b == "" {
		t.Fatal("expected non-empty keys")
	}
	if a == b {
		t.Fatal("expected distinct keys across calls")
	}
}
