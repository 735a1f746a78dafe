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

package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sigstore/repository-playground/cmd/playground/cli/options"
	"github.com/sigstore/repository-playground/internal/ui"
	"github.com/sigstore/repository-playground/pkg/playground/gitview"
	"github.com/sigstore/repository-playground/pkg/playground/online"
	"github.com/sigstore/repository-playground/pkg/playground/repo"
	"github.com/sigstore/repository-playground/pkg/playground/signerbackend"
)

func Snapshot() *cobra.Command {
	o := &options.SnapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Update snapshot and timestamp from current repository content",
		Long: `Reads the committed targets versions and produces a new snapshot
(and timestamp) when they moved. Exits 1 when nothing changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			engine := newEngine(settings)

			res, err := engine.Snapshot(ctx)
			if err != nil {
				return err
			}
			if !res.SnapshotUpdated && !res.TimestampUpdated {
				ui.Info(ctx, "No snapshot changes needed")
				return errNoChanges
			}
			ui.Info(ctx, "snapshot v%d, timestamp v%d", res.SnapshotVersion, res.TimestampVersion)

			git := &gitview.Exec{}
			msg := fmt.Sprintf("Snapshot update: snapshot v%d, timestamp v%d", res.SnapshotVersion, res.TimestampVersion)
			paths := []string{
				filepath.Join(settings.MetadataDir, "snapshot.json"),
				filepath.Join(settings.MetadataDir, "timestamp.json"),
			}
			if err := git.Commit(ctx, msg, paths...); err != nil {
				return err
			}
			if o.Push {
				if err := git.Push(ctx, settings.Remote, "HEAD"); err != nil {
					return err
				}
			}
			if o.PublishDir != "" {
				return engine.Publish(o.PublishDir)
			}
			return nil
		},
	}
	o.AddFlags(cmd)
	return cmd
}

func Publish() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <publish-dir>",
		Short: "Compile the publishable repository into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			return newEngine(settings).Publish(args[0])
		},
	}
	return cmd
}

func newEngine(settings *Settings) *online.Engine {
	r := repo.Open(settings.MetadataDir)
	return online.New(r, settings.TargetsDir, &signerbackend.Options{
		FulcioURL: settings.FulcioURL,
	})
}
