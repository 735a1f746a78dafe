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

package options

import "github.com/spf13/cobra"

// Interface is implemented by all option structs.
type Interface interface {
	// AddFlags adds this options' flags to the cobra command.
	AddFlags(cmd *cobra.Command)
}

// RootOptions apply to every subcommand.
type RootOptions struct {
	Verbose bool
}

var _ Interface = (*RootOptions)(nil)

func (o *RootOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&o.Verbose, "verbose", "v", false,
		"log debug output")
}

// PushOptions are shared by the commands that may publish their result.
type PushOptions struct {
	Push bool
}

var _ Interface = (*PushOptions)(nil)

func (o *PushOptions) AddFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.Push, "push", false,
		"push the resulting commits to the configured remote")
}

// SnapshotOptions configure the snapshot command.
type SnapshotOptions struct {
	PushOptions
	PublishDir string
}

var _ Interface = (*SnapshotOptions)(nil)

func (o *SnapshotOptions) AddFlags(cmd *cobra.Command) {
	o.PushOptions.AddFlags(cmd)
	cmd.Flags().StringVar(&o.PublishDir, "publish-dir", "",
		"also compile the publishable repository into this directory")
}
