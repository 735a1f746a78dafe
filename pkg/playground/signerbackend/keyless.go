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
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/sigstore/fulcio/pkg/api"
	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/internal/providers"
	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
)

const defaultFulcioURL = "https://fulcio.sigstore.dev"

func init() {
	Register("sigstore:", keylessSigner)
}

// keylessSigner signs with an ephemeral key bound to an ambient OIDC
// identity through Fulcio. Only non-interactive (ambient) flows are
// supported here; interactive browser login is the workbench's problem.
func keylessSigner(ctx context.Context, _ string, _ *metadata.Key, opts *Options) (signature.SignerVerifier, error) {
	if !providers.Enabled(ctx) {
		return nil, apierrors.New(apierrors.KindSignerUnavailable, "", "no ambient OIDC identity available")
	}
	token, err := providers.Provide(ctx, "sigstore")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}

	if err := requestCert(ctx, priv, token, opts); err != nil {
		return nil, err
	}
	sv, err := signature.LoadECDSASignerVerifier(priv, crypto.SHA256)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	return sv, nil
}

// requestCert performs the legacy Fulcio signing-cert exchange: the
// token's subject, signed by the ephemeral key, proves possession.
func requestCert(_ context.Context, priv *ecdsa.PrivateKey, token string, opts *Options) error {
	subject, err := tokenSubject(token)
	if err != nil {
		return apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	digest := sha256.Sum256([]byte(subject))
	proof, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}

	fulcioURL := opts.FulcioURL
	if fulcioURL == "" {
		fulcioURL = defaultFulcioURL
	}
	u, err := url.Parse(fulcioURL)
	if err != nil {
		return apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	client := api.NewClient(u, api.WithUserAgent("repository-playground"))
	if _, err := client.SigningCert(api.CertificateRequest{
		PublicKey: api.Key{
			Algorithm: "ecdsa",
			Content:   pubBytes,
		},
		SignedEmailAddress: proof,
	}, token); err != nil {
		return apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	return nil
}

// tokenSubject extracts the email (or sub) claim without verifying the
// token; Fulcio does the verification.
func tokenSubject(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", apierrors.New(apierrors.KindSignerUnavailable, "", "malformed OIDC token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", err
	}
	var claims struct {
		Email   string `json:"email"`
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", err
	}
	if claims.Email != "" {
		return claims.Email, nil
	}
	return claims.Subject, nil
}
