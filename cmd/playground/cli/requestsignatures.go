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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sigstore/repository-playground/internal/ui"
	"github.com/sigstore/repository-playground/pkg/playground/repo"
)

func RequestSignatures() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request-signatures <known-good-dir>",
		Short: "Sync the signing-event state file with the event's open invitations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			verdict, err := eventStatus(settings, args[0])
			if err != nil {
				return err
			}

			baselineDir := filepath.Join(args[0], settings.MetadataDir)
			r := repo.Open(settings.MetadataDir, repo.WithBaseline(baselineDir))
			state, err := repo.LoadEventState(r.Dir())
			if err != nil {
				return err
			}
			for role, owners := range verdict.Invites {
				for _, owner := range owners {
					state.Invite(role, owner)
				}
			}
			if err := state.Save(r.Dir()); err != nil {
				return err
			}

			for role, owners := range verdict.Obligations {
				ui.Info(ctx, "%s: requesting signatures from %v", role, owners)
			}
			return nil
		},
	}
	return cmd
}
