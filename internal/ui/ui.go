// Copyright 2023 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ui is for user-facing terminal output: human-readable
// messages go to stderr, leaving stdout for machine-readable results.
// The environment travels in the context so library code can print
// without global state, and tests can capture everything.
package ui

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Env is the terminal environment output and prompts use.
type Env struct {
	Stderr io.Writer
	Stdin  io.Reader
}

type envKey struct{}

// WithEnv overrides the terminal environment in the context.
func WithEnv(ctx context.Context, e *Env) context.Context {
	return context.WithValue(ctx, envKey{}, e)
}

func getEnv(ctx context.Context) *Env {
	if e, ok := ctx.Value(envKey{}).(*Env); ok {
		return e
	}
	return &Env{Stderr: os.Stderr, Stdin: os.Stdin}
}

// Info prints a message to the user.
func Info(ctx context.Context, msg string, a ...any) {
	e := getEnv(ctx)
	fmt.Fprintf(e.Stderr, msg+"\n", a...)
}

// Warn prints a warning to the user.
func Warn(ctx context.Context, msg string, a ...any) {
	e := getEnv(ctx)
	fmt.Fprintf(e.Stderr, "WARNING: "+msg+"\n", a...)
}

// ErrPromptDeclined means the user answered "no".
type ErrPromptDeclined struct{}

func (e *ErrPromptDeclined) Error() string {
	return "user declined the prompt"
}

// ErrInvalidInput means the answer was not among the allowed values.
type ErrInvalidInput struct {
	Got     string
	Allowed string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid input %q (allowed values: %v)", e.Got, e.Allowed)
}

// ConfirmContinue asks the user to confirm before continuing. Anything
// but an explicit yes declines.
func ConfirmContinue(ctx context.Context) error {
	e := getEnv(ctx)
	fmt.Fprint(e.Stderr, "Are you sure you would like to continue? [y/N] ")

	reader := bufio.NewReader(e.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.TrimSpace(line) {
	case "y", "Y":
		return nil
	case "n", "N", "":
		return &ErrPromptDeclined{}
	default:
		return &ErrInvalidInput{Got: strings.TrimSpace(line), Allowed: "y, n"}
	}
}

// WriteFunc pushes a string into the fake stdin of a test context.
type WriteFunc func(string)

// RunWithTestCtx runs fn against a test environment and returns what
// was written to stderr.
func RunWithTestCtx(fn func(ctx context.Context, write WriteFunc)) string {
	var stderr, stdin bytes.Buffer
	ctx := WithEnv(context.Background(), &Env{&stderr, &stdin})
	fn(ctx, func(s string) { stdin.WriteString(s) })
	return stderr.String()
}
