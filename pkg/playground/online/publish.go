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

package online

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
)

// Publish compiles the publishable tree under dir: version-prefixed
// metadata the downloader resolves with consistent snapshots, the
// unversioned snapshot/timestamp entry points, and a byte-identical
// mirror of targets/. A run with an expired timestamp is refused.
func (e *Engine) Publish(dir string) error {
	set, err := e.loadWithOnline()
	if err != nil {
		return err
	}

	timestamp := set.Get(roles.RoleTimestamp)
	if !timestamp.Expires().After(e.repo.Now()) {
		return apierrors.New(apierrors.KindExpiryPolicyViolation, roles.RoleTimestamp,
			"refusing to publish with timestamp expired at %s", timestamp.Expires())
	}

	metaDir := filepath.Join(dir, "metadata")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return err
	}

	// every root version ever committed stays fetchable
	histDir := filepath.Join(e.repo.Dir(), "root_history")
	hist, err := os.ReadDir(histDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, entry := range hist {
		if !strings.HasSuffix(entry.Name(), ".root.json") {
			continue
		}
		if err := copyFile(filepath.Join(histDir, entry.Name()), filepath.Join(metaDir, entry.Name())); err != nil {
			return err
		}
	}

	for _, pair := range []struct{ role, out string }{
		{roles.RoleTimestamp, "timestamp.json"},
		{roles.RoleSnapshot, "snapshot.json"},
	} {
		src := filepath.Join(e.repo.Dir(), pair.role+".json")
		if err := copyFile(src, filepath.Join(metaDir, pair.out)); err != nil {
			return err
		}
	}

	// targets metadata is versioned by what snapshot records
	snapshot := set.Get(roles.RoleSnapshot)
	for filename, mf := range snapshot.Snapshot.Signed.Meta {
		src := filepath.Join(e.repo.Dir(), filename)
		dst := filepath.Join(metaDir, fmt.Sprintf("%d.%s", mf.Version, filename))
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}

	return copyTree(e.targetsDir, filepath.Join(dir, "targets"))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
