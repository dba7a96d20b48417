package transport

import "testing"

func TestDeriveKeyIsDeterministic(t *testing.T) {
	k1 := DeriveKey("it's a secrect")
	k2 := DeriveKey("it's a secrect")
	if len(k1) != 32 {
		t.Fatalf("DeriveKey returned %d bytes, want 32", len(k1))
	}
	for i := range k1 {
		if k1[i] != k2[i] {
			t.Fatalf("DeriveKey is not deterministic for the same secret")
		}
	}

	k3 := DeriveKey("a different secret")
	if string(k1) == string(k3) {
		t.Fatalf("different secrets derived the same key")
	}
}

func TestSelectBlockCryptKnownMethods(t *testing.T) {
	key := DeriveKey("test-key")
	for method := range cryptMethods {
		block, effective := SelectBlockCrypt(method, key)
		if effective != method {
			t.Fatalf("SelectBlockCrypt(%q) reported effective method %q", method, effective)
		}
		if method != "null" && block == nil {
			t.Fatalf("SelectBlockCrypt(%q) returned a nil BlockCrypt", method)
		}
	}
}

func TestSelectBlockCryptFallsBackToAES(t *testing.T) {
	key := DeriveKey("test-key")
	block, effective := SelectBlockCrypt("not-a-real-cipher", key)
	if effective != "aes" {
		t.Fatalf("expected fallback to aes, got %q", effective)
	}
	if block == nil {
		t.Fatalf("fallback cipher should not be nil")
	}
}

func TestProfilesCoverAllModes(t *testing.T) {
	for _, mode := range []string{"normal", "fast", "fast2", "fast3"} {
		if _, ok := Profiles[mode]; !ok {
			t.Fatalf("missing profile for mode %q", mode)
		}
	}
}
