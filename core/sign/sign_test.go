package sign

import (
	"encoding/base64"
	"strings"
	"testing"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
)

const testDigest = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestSignVerifyDigestHex(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	sig, err := SignDigestHex(kp.Private, testDigest)
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}
	if sig.Alg != AlgEd25519 || sig.KeyID != KeyID(kp.Public) || sig.SignedDigest != testDigest {
		t.Fatalf("unexpected signature envelope: %+v", sig)
	}
	ok, err := VerifyDigestHex(kp.Public, sig)
	if err != nil {
		t.Fatalf("verify digest: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}

	sig.SignedDigest = strings.Repeat("b", 64)
	ok, err = VerifyDigestHex(kp.Public, sig)
	if err != nil {
		t.Fatalf("verify altered digest: %v", err)
	}
	if ok {
		t.Fatalf("expected altered digest to fail verification")
	}
}

func TestVerifyDigestHexWrongKey(t *testing.T) {
	kp1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	kp2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	sig, err := SignDigestHex(kp1.Private, testDigest)
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}
	ok, err := VerifyDigestHex(kp2.Public, sig)
	if err != nil {
		t.Fatalf("verify with wrong key: %v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail with wrong key")
	}
}

func TestSignDigestHexRejectsBadDigest(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	for _, digest := range []string{"zz", "abcd"} {
		_, err := SignDigestHex(kp.Private, digest)
		if coreerrors.CategoryOf(err) != coreerrors.CategoryFormatInvalid {
			t.Fatalf("digest %q: expected format error, got %v", digest, err)
		}
	}
}

func TestVerifyDigestHexMalformedSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	cases := []Signature{
		{Alg: "rsa", Sig: "", SignedDigest: testDigest},
		{Alg: AlgEd25519, Sig: "not-base64!", SignedDigest: testDigest},
		{Alg: AlgEd25519, Sig: base64.StdEncoding.EncodeToString([]byte("short")), SignedDigest: testDigest},
	}
	for _, sig := range cases {
		if _, err := VerifyDigestHex(kp.Public, sig); coreerrors.CategoryOf(err) != coreerrors.CategoryFormatInvalid {
			t.Fatalf("%+v: expected format error, got %v", sig, err)
		}
	}
}

func TestParseKeyBase64Invalid(t *testing.T) {
	if _, err := ParsePrivateKeyBase64("not-base64"); err == nil {
		t.Fatalf("expected error for invalid private key")
	}
	if _, err := ParsePublicKeyBase64("not-base64"); err == nil {
		t.Fatalf("expected error for invalid public key")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := ParsePrivateKeyBase64(short); err == nil {
		t.Fatalf("expected error for short private key")
	}
	if _, err := ParsePublicKeyBase64(short); err == nil {
		t.Fatalf("expected error for short public key")
	}
}
