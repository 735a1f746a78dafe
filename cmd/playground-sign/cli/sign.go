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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigstore/repository-playground/pkg/playground/signer"
)

func Sign() *cobra.Command {
	var eventBranch string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign the current signing event",
		Long: `Inspects the signing event on the current branch: folds local
target file changes into metadata, then adds your signature to every
changed role delegated to your key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, eventBranch)
			if err != nil {
				return err
			}
			changed, err := runSign(ctx, s)
			if err != nil {
				s.cleanup()
				return err
			}
			s.finish(changed, eventBranch)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventBranch, "event", "", "signing event branch to work on")
	return cmd
}

func runSign(ctx context.Context, s *session) (bool, error) {
	wb := s.workbench
	switch wb.State() {
	case signer.StateUninitialized:
		return false, fmt.Errorf("no metadata in this repository: run 'playground-sign delegate' first")
	case signer.StateInvited:
		fmt.Println("You have been invited to sign. Accepting invitations first.")
		return acceptInvitations(ctx, s)
	case signer.StateTargetsChanged:
		for role, changes := range wb.TargetChanges {
			fmt.Printf("Local target file changes for %s:\n", role)
			for _, c := range changes {
				fmt.Printf("  %s (%s)\n", c.Path, c.State)
			}
		}
		choice, err := s.prompter.Select("Update metadata to match the target files on disk?", []string{"Yes", "No"})
		if err != nil {
			return false, err
		}
		if choice != 0 {
			return false, nil
		}
		if err := wb.UpdateTargets(ctx); err != nil {
			return false, err
		}
		return true, nil
	case signer.StateSignatureNeeded:
		changed := false
		for _, role := range wb.Unsigned {
			choice, err := s.prompter.Select(fmt.Sprintf("Sign %s?", role), []string{"Yes", "No"})
			if err != nil {
				return changed, err
			}
			if choice != 0 {
				continue
			}
			if err := wb.SignRole(ctx, role); err != nil {
				return changed, err
			}
			changed = true
		}
		return changed, nil
	}
	fmt.Println("Nothing to sign")
	return false, nil
}
