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

	"github.com/sigstore/repository-playground/pkg/playground/event"
	"github.com/sigstore/repository-playground/pkg/playground/repo"
)

func Status() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <known-good-dir>",
		Short: "Render the signing-event verdict of this checkout against the known-good state",
		Long: `Compares the metadata in the working tree with the known-good
checkout and prints the signing-event report. Exits 0 when the event is
publishable, 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			verdict, err := eventStatus(settings, args[0])
			if err != nil {
				return err
			}
			verdict.Render(cmd.OutOrStdout())
			if verdict.Kind != event.Publishable {
				return fmt.Errorf("signing event is %s", verdict.Kind)
			}
			return nil
		},
	}
	return cmd
}

func eventStatus(settings *Settings, knownGoodDir string) (*event.Verdict, error) {
	baselineDir := filepath.Join(knownGoodDir, settings.MetadataDir)
	r := repo.Open(settings.MetadataDir, repo.WithBaseline(baselineDir))

	eventSet, err := r.Load()
	if err != nil {
		return nil, err
	}
	baseSet, err := r.LoadBaseline()
	if err != nil {
		return nil, err
	}
	state, err := repo.LoadEventState(r.Dir())
	if err != nil {
		return nil, err
	}
	return event.Status(event.Input{
		Base:       baseSet,
		Event:      eventSet,
		TargetsDir: settings.TargetsDir,
		State:      state,
		Now:        r.Now(),
	})
}
