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

package delta

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/roles"
)

type FileState int

const (
	FileAdded FileState = iota
	FileModified
	FileRemoved
)

func (s FileState) String() string {
	switch s {
	case FileModified:
		return "modified"
	case FileRemoved:
		return "removed"
	}
	return "added"
}

// TargetFileChange is one divergence between the targets/ directory and
// a targets role's listing.
type TargetFileChange struct {
	Path  string
	State FileState

	// Target describes the file on disk (for added/modified) or the
	// stale metadata entry (for removed).
	Target *metadata.TargetFiles
}

// ScanTargets compares the files under targetDir with the target
// listings in set. Top-level files belong to the targets role, files
// one directory deep to the delegated role named by the directory.
//
// The per-role change lists are empty when disk and metadata agree.
// Files for roles the set does not delegate are an error.
func ScanTargets(targetDir string, set *roles.Set) (map[string][]TargetFileChange, error) {
	onDisk, err := scanDisk(targetDir)
	if err != nil {
		return nil, err
	}

	changes := map[string][]TargetFileChange{}
	seenRole := map[string]bool{}

	addRoleListing := func(rolename string, r *roles.Role) {
		seenRole[rolename] = true
		listed := map[string]*metadata.TargetFiles{}
		if r != nil && r.Targets != nil {
			listed = r.Targets.Signed.Targets
		}
		disk := onDisk[rolename]
		for path, tf := range listed {
			have, ok := disk[path]
			switch {
			case !ok:
				changes[rolename] = append(changes[rolename], TargetFileChange{Path: path, State: FileRemoved, Target: tf})
			case !targetFilesEqual(tf, have):
				changes[rolename] = append(changes[rolename], TargetFileChange{Path: path, State: FileModified, Target: have})
			}
		}
		for path, tf := range disk {
			if _, ok := listed[path]; !ok {
				changes[rolename] = append(changes[rolename], TargetFileChange{Path: path, State: FileAdded, Target: tf})
			}
		}
		sort.Slice(changes[rolename], func(i, j int) bool {
			return changes[rolename][i].Path < changes[rolename][j].Path
		})
		if len(changes[rolename]) == 0 {
			delete(changes, rolename)
		}
	}

	addRoleListing(roles.RoleTargets, set.Get(roles.RoleTargets))
	for _, name := range set.DelegatedRoleNames(roles.RoleTargets) {
		addRoleListing(name, set.Get(name))
	}

	var unknown []string
	for rolename := range onDisk {
		if !seenRole[rolename] {
			unknown = append(unknown, rolename)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("target files exist for unknown roles: %s", strings.Join(unknown, ", "))
	}
	return changes, nil
}

// scanDisk lists target files one and two path segments deep, keyed by
// the owning role and the target path (a URL path, not an OS path).
func scanDisk(targetDir string) (map[string]map[string]*metadata.TargetFiles, error) {
	out := map[string]map[string]*metadata.TargetFiles{}
	if _, err := os.Stat(targetDir); os.IsNotExist(err) {
		return out, nil
	}

	add := func(rolename, targetPath, realPath string) error {
		tf, err := metadata.TargetFile().FromFile(realPath, "sha256")
		if err != nil {
			return fmt.Errorf("hashing %s: %w", realPath, err)
		}
		tf.Path = targetPath
		if out[rolename] == nil {
			out[rolename] = map[string]*metadata.TargetFiles{}
		}
		out[rolename][targetPath] = tf
		return nil
	}

	entries, err := os.ReadDir(targetDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			if err := add(roles.RoleTargets, e.Name(), filepath.Join(targetDir, e.Name())); err != nil {
				return nil, err
			}
			continue
		}
		sub, err := os.ReadDir(filepath.Join(targetDir, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range sub {
			if f.IsDir() {
				continue
			}
			targetPath := e.Name() + "/" + f.Name()
			if err := add(e.Name(), targetPath, filepath.Join(targetDir, e.Name(), f.Name())); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func targetFilesEqual(a, b *metadata.TargetFiles) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Length != b.Length {
		return false
	}
	return bytes.Equal(a.Hashes["sha256"], b.Hashes["sha256"])
}
