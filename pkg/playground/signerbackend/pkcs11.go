//
// Copyright 2023 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package signerbackend

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/ThalesIgnite/crypto11"
	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
	"github.com/sigstore/repository-playground/pkg/playground/env"
)

func init() {
	Register("pkcs11:", pkcs11Signer)
}

// pkcs11Config is the subset of RFC 7512 attributes the workbench
// emits: pkcs11:token=<label>;object=<label>?module-path=<p>&pin-value=<pin>
type pkcs11Config struct {
	tokenLabel string
	keyLabel   string
	modulePath string
	pin        string
}

func parsePKCS11URI(uri string) (*pkcs11Config, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	cfg := &pkcs11Config{}
	for _, attr := range strings.Split(u.Opaque, ";") {
		k, v, found := strings.Cut(attr, "=")
		if !found {
			continue
		}
		v, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		switch k {
		case "token":
			cfg.tokenLabel = v
		case "object":
			cfg.keyLabel = v
		}
	}
	q := u.Query()
	cfg.modulePath = q.Get("module-path")
	cfg.pin = q.Get("pin-value")
	return cfg, nil
}

// pkcs11Signer opens a hardware token session. The module path falls
// back to the config file, the PIN to the environment, then to an
// interactive prompt.
func pkcs11Signer(_ context.Context, uri string, key *metadata.Key, opts *Options) (signature.SignerVerifier, error) {
	cfg, err := parsePKCS11URI(uri)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	if cfg.modulePath == "" {
		cfg.modulePath = env.Getenv(env.VariablePKCS11Module)
	}
	if cfg.modulePath == "" {
		cfg.modulePath = opts.PKCS11ModulePath
	}
	if cfg.modulePath == "" {
		return nil, apierrors.New(apierrors.KindSignerUnavailable, "", "no PKCS11 module path configured")
	}
	if cfg.pin == "" {
		cfg.pin = env.Getenv(env.VariablePKCS11Pin)
	}
	if cfg.pin == "" && opts.GetPIN != nil {
		cfg.pin, err = opts.GetPIN("PKCS11 PIN")
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
		}
	}

	c11, err := crypto11.Configure(&crypto11.Config{
		Path:       cfg.modulePath,
		TokenLabel: cfg.tokenLabel,
		Pin:        cfg.pin,
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}

	var label []byte
	if cfg.keyLabel != "" {
		label = []byte(cfg.keyLabel)
	}
	signer, err := c11.FindKeyPair(nil, label)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	if signer == nil {
		return nil, apierrors.New(apierrors.KindSignerUnavailable, "", "no key pair found on token %q", cfg.tokenLabel)
	}
	return hsmSignerVerifier(signer), nil
}

// hsmKey adapts a hardware-held crypto.Signer to the signature
// interfaces. Messages are hashed with SHA-256; the token signs the
// digest.
type hsmKey struct {
	signer crypto.Signer
}

func hsmSignerVerifier(s crypto.Signer) hsmKey {
	return hsmKey{signer: s}
}

func (h hsmKey) PublicKey(_ ...signature.PublicKeyOption) (crypto.PublicKey, error) {
	return h.signer.Public(), nil
}

func (h hsmKey) SignMessage(message io.Reader, _ ...signature.SignOption) ([]byte, error) {
	msg, err := io.ReadAll(message)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(msg)
	sig, err := h.signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignatureRejected, "", err)
	}
	return sig, nil
}

func (h hsmKey) VerifySignature(sig, message io.Reader, _ ...signature.VerifyOption) error {
	sigBytes, err := io.ReadAll(sig)
	if err != nil {
		return err
	}
	msg, err := io.ReadAll(message)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(msg)
	pub, ok := h.signer.Public().(*ecdsa.PublicKey)
	if !ok {
		return errors.New("unsupported hardware key type")
	}
	if !ecdsa.VerifyASN1(pub, digest[:], sigBytes) {
		return errors.New("signature verification failed")
	}
	return nil
}

var _ signature.SignerVerifier = hsmKey{}
