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

// Package config reads the signer workbench settings from
// .playground-sign.ini at the repository top level.
package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// FileName is the settings file, committed per-user or kept local.
const FileName = ".playground-sign.ini"

// Config is the signer's local configuration.
type Config struct {
	// UserName is the handle matched against x-playground-keyowner.
	UserName string
	// PKCS11Lib is the PKCS11 shared library for hardware signing.
	PKCS11Lib string
	// PullRemote is fetched for event state, PushRemote receives
	// event updates.
	PullRemote string
	PushRemote string

	// SigningKeys maps keyids to signer URIs from the optional
	// [signing-keys] section, caching each signer's chosen backend.
	SigningKeys map[string]string

	path string
	file *ini.File
}

// Read loads and validates the settings file.
func Read(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}
	c := &Config{path: path, file: f, SigningKeys: map[string]string{}}

	settings := f.Section("settings")
	for _, req := range []struct {
		key string
		dst *string
	}{
		{"user-name", &c.UserName},
		{"pykcs11lib", &c.PKCS11Lib},
		{"pull-remote", &c.PullRemote},
		{"push-remote", &c.PushRemote},
	} {
		*req.dst = settings.Key(req.key).String()
		if *req.dst == "" {
			return nil, fmt.Errorf("missing required setting %q in %s", req.key, path)
		}
	}

	if sec, err := f.GetSection("signing-keys"); err == nil {
		c.SigningKeys = sec.KeysHash()
	}
	return c, nil
}

// StoreSigningKey records a keyid to signer-URI binding and rewrites
// the settings file.
func (c *Config) StoreSigningKey(keyid, uri string) error {
	c.SigningKeys[keyid] = uri
	sec := c.file.Section("signing-keys")
	sec.Key(keyid).SetValue(uri)
	return c.file.SaveTo(c.path)
}

// Exists reports whether a settings file is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
