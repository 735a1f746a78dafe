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
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// Prompter abstracts the interactive loop so the delta-builder flows
// are deterministic state machines driven by any input source.
type Prompter interface {
	// Select offers a menu and returns the chosen index.
	Select(label string, items []string) (int, error)
	// Input asks for a line of text with a default.
	Input(label, defaultValue string) (string, error)
	// Secret asks for a hidden value (PIN, passphrase).
	Secret(label string) (string, error)
}

// terminal drives prompts through promptui on a real tty.
type terminal struct{}

var _ Prompter = (*terminal)(nil)

func (terminal) Select(label string, items []string) (int, error) {
	s := promptui.Select{
		Label: label,
		Items: items,
	}
	i, _, err := s.Run()
	return i, err
}

func (terminal) Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}
	return p.Run()
}

func (terminal) Secret(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		// piped input (tests, CI): read the line as-is
		var s string
		if _, err := fmt.Scanln(&s); err != nil {
			return "", err
		}
		return s, nil
	}
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}
	return p.Run()
}

// intInput asks for an integer, re-prompting on junk.
func intInput(p Prompter, label string, defaultValue int) (int, error) {
	for {
		s, err := p.Input(label, strconv.Itoa(defaultValue))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err == nil {
			return n, nil
		}
	}
}

// signerListInput parses a comma-separated list of handles, ensuring
// the @ prefix the owner fields use.
func signerListInput(p Prompter, label string, current []string) ([]string, error) {
	s, err := p.Input(label, strings.Join(current, ", "))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, "@") {
			part = "@" + part
		}
		out = append(out, part)
	}
	return out, nil
}
