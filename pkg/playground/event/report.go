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

package event

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Render writes the signing-event report: one markdown section per
// changed role and a final verdict line. CI posts this as the status
// comment on the event.
func (v *Verdict) Render(w io.Writer) {
	if v.Kind == Empty {
		fmt.Fprintln(w, "No metadata changes in this signing event")
		fmt.Fprintf(w, "\nVerdict: %s\n", v.Kind)
		return
	}

	for _, rs := range v.Roles {
		v.renderRole(w, rs)
	}
	if len(v.Invites) > 0 {
		fmt.Fprintln(w, "#### Open invitations")
		for _, role := range sortedKeys(v.Invites) {
			fmt.Fprintf(w, "* %s: %s\n", role, strings.Join(v.Invites[role], ", "))
		}
	}
	fmt.Fprintf(w, "\nVerdict: %s\n", v.Kind)
}

func (v *Verdict) renderRole(w io.Writer, rs RoleStatus) {
	counts := fmt.Sprintf("%d/%d", len(rs.Signed), rs.Threshold)
	if rs.PrevThreshold > 0 && rs.PrevThreshold != rs.Threshold {
		counts = fmt.Sprintf("%s (%d required by previous root)", counts, rs.PrevThreshold)
	}

	switch {
	case !rs.Valid():
		fmt.Fprintf(w, "#### :x: %s\n", rs.Role)
		for i, r := range rs.Reasons {
			msg := ""
			if i < len(rs.Messages) {
				msg = ": " + rs.Messages[i]
			}
			fmt.Fprintf(w, "%s is invalid (%s)%s\n", rs.Role, r, msg)
		}
		for i := len(rs.Reasons); i < len(rs.Messages); i++ {
			fmt.Fprintf(w, "%s\n", rs.Messages[i])
		}
	case rs.Complete():
		fmt.Fprintf(w, "#### :heavy_check_mark: %s\n", rs.Role)
		fmt.Fprintf(w, "%s is verified and signed by %s signers (%s)\n",
			rs.Role, counts, strings.Join(rs.Signed, ", "))
	case len(rs.Signed) > 0:
		fmt.Fprintf(w, "#### :x: %s\n", rs.Role)
		fmt.Fprintf(w, "%s is not yet verified. It is signed by %s signers (%s)\n",
			rs.Role, counts, strings.Join(rs.Signed, ", "))
	default:
		fmt.Fprintf(w, "#### :x: %s\n", rs.Role)
		fmt.Fprintf(w, "%s is unsigned and not yet verified\n", rs.Role)
	}

	if len(rs.Missing) > 0 {
		fmt.Fprintf(w, "Still missing signatures from %s\n", strings.Join(rs.Missing, ", "))
	}
	if len(rs.Invited) > 0 {
		fmt.Fprintf(w, "Waiting for invited signers: %s\n", strings.Join(rs.Invited, ", "))
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
