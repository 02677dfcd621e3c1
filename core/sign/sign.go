// Package sign produces detached ed25519 signatures over sha256 digests.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
)

const AlgEd25519 = "ed25519"

type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Signature is the detached form written beside a signed artifact. Sig signs
// the raw 32 bytes of SignedDigest.
type Signature struct {
	Alg          string `json:"alg"`
	KeyID        string `json:"key_id"`
	Sig          string `json:"sig"`
	SignedDigest string `json:"signed_digest"`
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "keygen_failed", "", true)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyID is the hex sha256 of the raw public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

func decodeDigest(digestHex string) ([]byte, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, coreerrors.Format("digest_invalid", "decode digest: %v", err)
	}
	if len(digest) != sha256.Size {
		return nil, coreerrors.Format("digest_invalid", "invalid digest length: %d", len(digest))
	}
	return digest, nil
}

func SignDigestHex(priv ed25519.PrivateKey, digestHex string) (Signature, error) {
	digest, err := decodeDigest(digestHex)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Alg:          AlgEd25519,
		KeyID:        KeyID(priv.Public().(ed25519.PublicKey)),
		Sig:          base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest)),
		SignedDigest: digestHex,
	}, nil
}

// VerifyDigestHex reports whether sig is a valid signature by pub over
// sig.SignedDigest. A key id that names another key is a mismatch, not an
// error.
func VerifyDigestHex(pub ed25519.PublicKey, sig Signature) (bool, error) {
	if sig.Alg != AlgEd25519 {
		return false, coreerrors.Format("signature_alg_unsupported", "unsupported alg: %s", sig.Alg)
	}
	digest, err := decodeDigest(sig.SignedDigest)
	if err != nil {
		return false, err
	}
	rawSig, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return false, coreerrors.Format("signature_invalid", "decode sig: %v", err)
	}
	if len(rawSig) != ed25519.SignatureSize {
		return false, coreerrors.Format("signature_invalid", "invalid signature length: %d", len(rawSig))
	}
	if sig.KeyID != "" && sig.KeyID != KeyID(pub) {
		return false, nil
	}
	return ed25519.Verify(pub, digest, rawSig), nil
}

func ParsePrivateKeyBase64(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, coreerrors.Config("private_key_invalid", "decode private key: %v", err)
	}
	if l := len(raw); l != ed25519.PrivateKeySize {
		return nil, coreerrors.Config("private_key_invalid", "invalid private key length: %d", l)
	}
	return ed25519.PrivateKey(raw), nil
}

func ParsePublicKeyBase64(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, coreerrors.Config("public_key_invalid", "decode public key: %v", err)
	}
	if l := len(raw); l != ed25519.PublicKeySize {
		return nil, coreerrors.Config("public_key_invalid", "invalid public key length: %d", l)
	}
	return ed25519.PublicKey(raw), nil
}
