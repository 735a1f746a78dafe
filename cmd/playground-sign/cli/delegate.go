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
	"strings"

	"github.com/spf13/cobra"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/roles"
	"github.com/sigstore/repository-playground/pkg/playground/signer"
	"github.com/sigstore/repository-playground/pkg/playground/signerbackend"
)

func Delegate() *cobra.Command {
	var eventBranch string
	cmd := &cobra.Command{
		Use:   "delegate [role]",
		Short: "Modify delegations on a signing event",
		Long: `Guided editor for role delegations: signers, thresholds, expiry
policy, and the online-role configuration. Writes a well-formed
metadata delta into the working tree; committing and pushing stays in
your hands.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, eventBranch)
			if err != nil {
				return err
			}
			role := ""
			if len(args) > 0 {
				role = args[0]
			}
			changed, err := runDelegate(ctx, s, role)
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

func runDelegate(ctx context.Context, s *session, role string) (bool, error) {
	wb := s.workbench
	switch {
	case wb.State() == signer.StateUninitialized:
		return initRepository(ctx, s)
	case wb.State() == signer.StateInvited:
		return acceptInvitations(ctx, s)
	case role == roles.RoleSnapshot || role == roles.RoleTimestamp:
		return editOnline(ctx, s)
	case role != "":
		return editOffline(ctx, s, role)
	}
	return false, fmt.Errorf("ROLE is required")
}

// initRepository drives the first signing event: root, targets and the
// online configuration in one pass.
func initRepository(ctx context.Context, s *session) (bool, error) {
	fmt.Println("Creating a new Playground TUF repository")

	defaults := &signer.OfflineConfig{
		Signers:       []string{s.cfg.UserName},
		Threshold:     1,
		ExpiryPeriod:  365,
		SigningPeriod: 60,
	}
	rootConfig, err := offlineInput(s.prompter, roles.RoleRoot, defaults)
	if err != nil {
		return false, err
	}
	targetsDefaults := *rootConfig
	targetsConfig, err := offlineInput(s.prompter, roles.RoleTargets, &targetsDefaults)
	if err != nil {
		return false, err
	}
	onlineConfig, err := onlineInput(ctx, s, &signer.OnlineConfig{
		TimestampExpiry: 2,
		SnapshotExpiry:  rootConfig.ExpiryPeriod,
	})
	if err != nil {
		return false, err
	}

	key, err := userKeyIfSigner(ctx, s, rootConfig, targetsConfig)
	if err != nil {
		return false, err
	}

	if err := s.workbench.SetRoleConfig(ctx, roles.RoleRoot, rootConfig, key); err != nil {
		return false, err
	}
	if err := s.workbench.SetRoleConfig(ctx, roles.RoleTargets, targetsConfig, key); err != nil {
		return false, err
	}
	if err := s.workbench.SetOnlineConfig(ctx, onlineConfig); err != nil {
		return false, err
	}
	return true, nil
}

// acceptInvitations binds the user's key into every delegation they
// were invited to, and signs.
func acceptInvitations(ctx context.Context, s *session) (bool, error) {
	key, err := hardwareKeyInput(ctx, s)
	if err != nil {
		return false, err
	}
	for _, role := range s.workbench.Invites() {
		cfg, err := s.workbench.RoleConfig(role)
		if err != nil {
			return false, err
		}
		if err := s.workbench.SetRoleConfig(ctx, role, cfg, key); err != nil {
			return false, err
		}
	}
	return true, nil
}

func editOffline(ctx context.Context, s *session, role string) (bool, error) {
	fmt.Printf("Modifying delegation for %s\n", role)

	cfg, err := s.workbench.RoleConfig(role)
	if err != nil {
		return false, err
	}
	if cfg == nil {
		cfg = &signer.OfflineConfig{
			Signers:       []string{s.cfg.UserName},
			Threshold:     1,
			ExpiryPeriod:  180,
			SigningPeriod: 30,
		}
	}
	orig := *cfg
	newConfig, err := offlineInput(s.prompter, role, cfg)
	if err != nil {
		return false, err
	}
	if newConfig.Equal(orig) {
		return false, nil
	}

	key, err := userKeyIfSigner(ctx, s, newConfig)
	if err != nil {
		return false, err
	}
	if err := s.workbench.SetRoleConfig(ctx, role, newConfig, key); err != nil {
		return false, err
	}
	return true, nil
}

func editOnline(ctx context.Context, s *session) (bool, error) {
	fmt.Println("Modifying online roles")

	cfg, err := s.workbench.OnlineConfigValue()
	if err != nil {
		return false, err
	}
	newConfig, err := onlineInput(ctx, s, cfg)
	if err != nil {
		return false, err
	}
	if newConfig.URI == cfg.URI &&
		newConfig.TimestampExpiry == cfg.TimestampExpiry &&
		newConfig.SnapshotExpiry == cfg.SnapshotExpiry {
		return false, nil
	}
	if err := s.workbench.SetOnlineConfig(ctx, newConfig); err != nil {
		return false, err
	}
	return true, nil
}

// offlineInput is the configure-signers / configure-expiry / continue
// menu for one role.
func offlineInput(p Prompter, role string, cfg *signer.OfflineConfig) (*signer.OfflineConfig, error) {
	out := *cfg
	out.Signers = append([]string(nil), cfg.Signers...)
	fmt.Printf("\nConfiguring role %s\n", role)
	for {
		choice, err := p.Select(fmt.Sprintf("Role %s", role), []string{
			fmt.Sprintf("Configure signers: [%s], requiring %d signatures",
				strings.Join(out.Signers, ", "), out.Threshold),
			fmt.Sprintf("Configure expiry: expires in %d days, re-signing starts %d days before",
				out.ExpiryPeriod, out.SigningPeriod),
			"Continue",
		})
		if err != nil {
			return nil, err
		}
		switch choice {
		case 0:
			out.Signers, err = signerListInput(p, fmt.Sprintf("Please enter list of %s signers", role), out.Signers)
			if err != nil {
				return nil, err
			}
			if len(out.Signers) == 1 {
				out.Threshold = 1
			} else {
				out.Threshold, err = intInput(p, fmt.Sprintf("Please enter %s threshold", role), out.Threshold)
				if err != nil {
					return nil, err
				}
			}
		case 1:
			out.ExpiryPeriod, err = intInput(p, fmt.Sprintf("Please enter %s expiry period in days", role), out.ExpiryPeriod)
			if err != nil {
				return nil, err
			}
			out.SigningPeriod, err = intInput(p, fmt.Sprintf("Please enter %s signing period in days", role), out.SigningPeriod)
			if err != nil {
				return nil, err
			}
		default:
			return &out, nil
		}
	}
}

// onlineInput configures the service-held key and the online expiry
// periods.
func onlineInput(ctx context.Context, s *session, cfg *signer.OnlineConfig) (*signer.OnlineConfig, error) {
	out := *cfg
	fmt.Println("\nConfiguring online roles")
	for {
		uriLabel := out.URI
		if uriLabel == "" {
			uriLabel = "not set"
		}
		choice, err := s.prompter.Select("Online roles", []string{
			fmt.Sprintf("Configure online key: %s", uriLabel),
			fmt.Sprintf("Configure timestamp: expires in %d days", out.TimestampExpiry),
			fmt.Sprintf("Configure snapshot: expires in %d days", out.SnapshotExpiry),
			"Continue",
		})
		if err != nil {
			return nil, err
		}
		switch choice {
		case 0:
			uri, err := s.prompter.Input("Please enter the online key URI (e.g. gcpkms://...)", out.URI)
			if err != nil {
				return nil, err
			}
			key, err := s.workbench.ImportOnlineKey(ctx, uri)
			if err != nil {
				fmt.Printf("Error: failed to read online key: %v\n", err)
				continue
			}
			out.URI, out.Key = uri, key
		case 1:
			out.TimestampExpiry, err = intInput(s.prompter, "Please enter timestamp expiry in days", out.TimestampExpiry)
			if err != nil {
				return nil, err
			}
		case 2:
			out.SnapshotExpiry, err = intInput(s.prompter, "Please enter snapshot expiry in days", out.SnapshotExpiry)
			if err != nil {
				return nil, err
			}
		default:
			if out.URI == "" || out.Key == nil {
				fmt.Println("Error: missing online key")
				continue
			}
			return &out, nil
		}
	}
}

// userKeyIfSigner prompts for the hardware key when the user appears
// among the configured signers.
func userKeyIfSigner(ctx context.Context, s *session, cfgs ...*signer.OfflineConfig) (*metadata.Key, error) {
	for _, cfg := range cfgs {
		for _, name := range cfg.Signers {
			if name == s.cfg.UserName {
				return hardwareKeyInput(ctx, s)
			}
		}
	}
	return nil, nil
}

func hardwareKeyInput(ctx context.Context, s *session) (*metadata.Key, error) {
	if _, err := s.prompter.Input("Insert your HW key and press enter", ""); err != nil {
		return nil, err
	}
	key, err := signerbackend.ImportKey(ctx, "pkcs11:", &signerbackend.Options{
		PKCS11ModulePath: s.cfg.PKCS11Lib,
		GetPIN: func(name string) (string, error) {
			return s.prompter.Secret(fmt.Sprintf("Enter %s", name))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read HW key: %w", err)
	}
	return key, nil
}
