package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	h, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatal(err)
	}
	if h == "s3cret!" {
		t.Fatal("hash must not equal the password")
	}
	if ok, rehash := Verify("s3cret!", h); !ok || rehash {
		t.Errorf("got ok=%v rehash=%v, want true false", ok, rehash)
	}
	if CheckPasswordHash("wrong", h) {
		t.Error("wrong password accepted")
	}
}

func TestHashIsSalted(t *testing.T) {
	a, _ := HashPassword("same")
	b, _ := HashPassword("same")
	if a == b {
		t.Error("two hashes of one password should differ")
	}
}

func TestLegacySHA256(t *testing.T) {
	sum := sha256.Sum256([]byte("admin123"))
	legacy := hex.EncodeToString(sum[:])
	if !IsLegacy(legacy) {
		t.Fatal("sha256 hex should be detected as legacy")
	}
	if ok, rehash := Verify("admin123", legacy); !ok || !rehash {
		t.Errorf("got ok=%v rehash=%v, want true true", ok, rehash)
	}
	if ok, _ := Verify("admin124", legacy); ok {
		t.Error("wrong password accepted for legacy hash")
	}
	bc, _ := HashPassword("admin123")
	if IsLegacy(bc) {
		t.Error("bcrypt hash detected as legacy")
	}
}
