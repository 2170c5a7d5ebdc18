package verify

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/jedisct1/go-minisign"

	"github.com/3leaps/relmirror/internal/model"
)

// Keys are the optional per-repository public keys used to check sidecar
// signatures. Each value is either a path to a key file or the key itself.
type Keys struct {
	Minisign string
	PGP      string
}

func (k Keys) Empty() bool {
	return k.Minisign == "" && k.PGP == ""
}

// Verifier checks detached sidecar signatures with preloaded keys.
type Verifier struct {
	minisignKey *minisign.PublicKey
	pgpKeyRing  openpgp.EntityList
}

// NewVerifier loads the configured keys. A zero Keys yields a verifier that
// accepts nothing and finds no signatures.
func NewVerifier(keys Keys) (*Verifier, error) {
	v := &Verifier{}
	if keys.Minisign != "" {
		pk, err := LoadMinisignKey(keys.Minisign)
		if err != nil {
			return nil, err
		}
		v.minisignKey = &pk
	}
	if keys.PGP != "" {
		ring, err := LoadPGPKeyRing(keys.PGP)
		if err != nil {
			return nil, err
		}
		v.pgpKeyRing = ring
	}
	return v, nil
}

// FindSignature picks the signature asset for a sidecar. Minisign is
// preferred over PGP when both keys are configured.
func (v *Verifier) FindSignature(sidecar string, assets []model.Asset) (*model.Asset, string) {
	var candidates []string
	if v.minisignKey != nil {
		candidates = append(candidates, sidecar+".minisig")
	}
	if v.pgpKeyRing != nil {
		candidates = append(candidates, sidecar+".asc", sidecar+".sig", sidecar+".gpg")
	}
	for _, candidate := range candidates {
		for i := range assets {
			if assets[i].Name == candidate {
				return &assets[i], SignatureFormatFromExtension(candidate)
			}
		}
	}
	return nil, ""
}

// Verify checks sig over data. The format decides which key is used.
func (v *Verifier) Verify(format string, data, sig []byte) error {
	switch format {
	case FormatMinisign:
		if v.minisignKey == nil {
			return errors.New("no minisign key configured")
		}
		return VerifyMinisign(*v.minisignKey, data, sig)
	case FormatPGP:
		if v.pgpKeyRing == nil {
			return errors.New("no pgp key configured")
		}
		return VerifyPGP(v.pgpKeyRing, data, sig)
	default:
		return fmt.Errorf("unsupported signature format %q", format)
	}
}

// LoadMinisignKey accepts a minisign.pub file path or the bare base64 key.
func LoadMinisignKey(value string) (minisign.PublicKey, error) {
	if _, err := os.Stat(value); err == nil {
		pk, err := minisign.NewPublicKeyFromFile(value)
		if err != nil {
			return minisign.PublicKey{}, fmt.Errorf("read minisign pubkey %s: %w", value, err)
		}
		return pk, nil
	}
	pk, err := minisign.NewPublicKey(strings.TrimSpace(value))
	if err != nil {
		return minisign.PublicKey{}, fmt.Errorf("parse minisign pubkey: %w", err)
	}
	return pk, nil
}

func VerifyMinisign(pk minisign.PublicKey, data, sigData []byte) error {
	sig, err := minisign.DecodeSignature(string(sigData))
	if err != nil {
		return fmt.Errorf("read minisign signature: %w", err)
	}
	valid, err := pk.Verify(data, sig)
	if err != nil {
		return fmt.Errorf("minisign: verification error: %w", err)
	}
	if !valid {
		return errors.New("minisign: signature verification failed")
	}
	return nil
}

// LoadPGPKeyRing reads an armored or binary public key ring from a path, or
// parses value directly when it is an armored block.
func LoadPGPKeyRing(value string) (openpgp.EntityList, error) {
	var data []byte
	if strings.HasPrefix(strings.TrimSpace(value), "-----BEGIN PGP") {
		data = []byte(value)
	} else {
		// #nosec G304 -- key path comes from the operator's config
		b, err := os.ReadFile(value)
		if err != nil {
			return nil, fmt.Errorf("read pgp key: %w", err)
		}
		data = b
	}
	if isArmored(data) {
		ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse armored pgp key: %w", err)
		}
		return ring, nil
	}
	ring, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse pgp key: %w", err)
	}
	return ring, nil
}

func VerifyPGP(ring openpgp.EntityList, data, sig []byte) error {
	var err error
	if isArmored(sig) {
		_, err = openpgp.CheckArmoredDetachedSignature(ring, bytes.NewReader(data), bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(ring, bytes.NewReader(data), bytes.NewReader(sig), nil)
	}
	if err != nil {
		return fmt.Errorf("pgp: %w", err)
	}
	return nil
}

func isArmored(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN PGP"))
}
