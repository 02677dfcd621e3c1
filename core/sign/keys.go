package sign

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/davidahmann/hashhelix/core/errors"
	"github.com/davidahmann/hashhelix/core/fsx"
)

const (
	PrivateKeyFileName = "hashhelix_ed25519.key"
	PublicKeyFileName  = "hashhelix_ed25519.pub"
)

// KeySource names where a base64 key lives: a file or an environment
// variable, never both.
type KeySource struct {
	Path string
	Env  string
}

func (s KeySource) Configured() bool {
	return s.Path != "" || s.Env != ""
}

func (s KeySource) read(what string) (string, error) {
	switch {
	case s.Path != "" && s.Env != "":
		return "", coreerrors.Config("key_source_ambiguous", "%s key source: set either path or env", what)
	case s.Path != "":
		// #nosec G304 -- caller supplies local key path.
		raw, err := os.ReadFile(s.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", coreerrors.Missing("key_missing", "%s key file does not exist: %s", what, s.Path)
			}
			return "", coreerrors.IO(fmt.Errorf("read %s key: %w", what, err), "key_read_failed")
		}
		return strings.TrimSpace(string(raw)), nil
	case s.Env != "":
		value := strings.TrimSpace(os.Getenv(s.Env))
		if value == "" {
			return "", coreerrors.Missing("key_missing", "%s key env not set: %s", what, s.Env)
		}
		return value, nil
	default:
		return "", coreerrors.Config("key_source_required", "%s key not configured", what)
	}
}

func LoadPrivateKey(src KeySource) (ed25519.PrivateKey, error) {
	encoded, err := src.read("private")
	if err != nil {
		return nil, err
	}
	return ParsePrivateKeyBase64(encoded)
}

// LoadPublicKey also accepts a private key source and derives its public half.
func LoadPublicKey(src KeySource) (ed25519.PublicKey, error) {
	encoded, err := src.read("public")
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil && len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw).Public().(ed25519.PublicKey), nil
	}
	return ParsePublicKeyBase64(encoded)
}

// WriteKeyPair writes base64 key files into dir. The private key is 0600.
func WriteKeyPair(dir string, kp KeyPair) (string, string, error) {
	privatePath := filepath.Join(dir, PrivateKeyFileName)
	publicPath := filepath.Join(dir, PublicKeyFileName)
	if _, err := os.Stat(privatePath); err == nil {
		return "", "", coreerrors.Config("key_exists", "refusing to overwrite %s", privatePath)
	}
	if err := fsx.WriteFileAtomic(privatePath, []byte(base64.StdEncoding.EncodeToString(kp.Private)+"\n"), 0o600); err != nil {
		return "", "", coreerrors.IO(err, "key_write_failed")
	}
	if err := fsx.WriteFileAtomic(publicPath, []byte(base64.StdEncoding.EncodeToString(kp.Public)+"\n"), 0o644); err != nil {
		return "", "", coreerrors.IO(err, "key_write_failed")
	}
	return privatePath, publicPath, nil
}
