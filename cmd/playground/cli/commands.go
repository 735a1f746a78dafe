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

// Package cli wires the CI-side commands: signing-event status and the
// online-signing engine entry points. These run unattended in the
// repository workflow; everything interactive lives in playground-sign.
package cli

import (
	"errors"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/sigstore/repository-playground/cmd/playground/cli/options"
)

var ro = &options.RootOptions{}

// errNoChanges makes the command exit non-zero so the workflow can
// skip follow-up steps when nothing was produced.
var errNoChanges = errors.New("no changes")

// Settings are the workflow-provided knobs, read from PLAYGROUND_*
// environment variables.
type Settings struct {
	MetadataDir string `split_words:"true" default:"metadata"`
	TargetsDir  string `split_words:"true" default:"targets"`
	Remote      string `default:"origin"`
	FulcioURL   string `split_words:"true"`
}

func loadSettings() (*Settings, error) {
	s := &Settings{}
	if err := envconfig.Process("playground", s); err != nil {
		return nil, err
	}
	return s, nil
}

// New returns the playground root command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "playground",
		Short:             "Repository engine for CI-orchestrated TUF signing events",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	ro.AddFlags(cmd)

	cmd.AddCommand(Status())
	cmd.AddCommand(Snapshot())
	cmd.AddCommand(BumpOnline())
	cmd.AddCommand(BumpOffline())
	cmd.AddCommand(Publish())
	cmd.AddCommand(RequestSignatures())
	return cmd
}
