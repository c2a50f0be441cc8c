// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/granulefilter/internal/action"
	"github.com/cardinalhq/granulefilter/internal/admission"
	"github.com/cardinalhq/granulefilter/internal/granule"
	"github.com/cardinalhq/granulefilter/internal/registry"
)

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

func newCheckCmd() *cobra.Command {
	var (
		flags   configFlags
		message string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show what run would do with one notification, without touching any file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			opts, err := flags.load(c)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(telemetrySettings{ServiceName: serviceName, Verbose: verbose}, c.ErrOrStderr(), false))

			raw, err := readMessage(message, c.InOrStdin())
			if err != nil {
				return err
			}
			res, err := evaluateMessage(c.Context(),
				admission.NewGranuleFilter(opts.AdmissionConfig()),
				action.NewResolver(opts.ActionSettings()),
				raw)
			if err != nil {
				return err
			}
			res.write(c.OutOrStdout())
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&message, "message", "-", "File holding one notification, or - for stdin")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose mode")
	return cmd
}

func readMessage(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" || name == "" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return b, nil
}

type checkResult struct {
	Scene     registry.SceneID
	Path      string
	Admitted  bool
	ErrorKind string
	Err       error
	Plan      action.Plan
}

// evaluateMessage runs one notification through admission and the resolver.
// Admission and resolver failures are part of the result; only messages the
// dispatcher would drop before admission are errors.
func evaluateMessage(ctx context.Context, oracle admission.Oracle, resolver *action.Resolver, raw []byte) (checkResult, error) {
	msg, err := granule.Decode(raw)
	if err != nil {
		return checkResult{}, err
	}
	if msg.Type != granule.TypeFile {
		return checkResult{}, fmt.Errorf("message type %q is not handled", msg.Type)
	}
	path, err := msg.Path()
	if err != nil {
		return checkResult{}, err
	}
	if msg.StartTime.IsZero() {
		return checkResult{}, fmt.Errorf("%w: missing start_time", granule.ErrMalformed)
	}

	res := checkResult{Scene: registry.NewSceneID(msg.StartTime), Path: path}
	res.Admitted, err = oracle.Evaluate(ctx, msg)
	if err != nil {
		res.ErrorKind = "admission_" + admission.Kind(err)
		res.Err = err
		return res, nil
	}
	res.Plan, err = resolver.Plan(msg, path, res.Admitted)
	if err != nil {
		res.ErrorKind = "unsupported"
		res.Err = err
	}
	return res, nil
}

func (r checkResult) write(w io.Writer) {
	fmt.Fprintf(w, "scene:    %s\n", r.Scene)
	fmt.Fprintf(w, "path:     %s\n", r.Path)
	if r.Err != nil {
		fmt.Fprintf(w, "skipped:  %s: %v\n", r.ErrorKind, r.Err)
		return
	}
	fmt.Fprintf(w, "admitted: %t\n", r.Admitted)
	if r.Plan.Filename != "" {
		fmt.Fprintf(w, "filename: %s\n", r.Plan.Filename)
	}
	if len(r.Plan.Ops) == 0 {
		note := r.Plan.Note
		if note == "" {
			note = "none"
		}
		fmt.Fprintf(w, "action:   %s\n", strings.ReplaceAll(note, "_", " "))
		return
	}
	for _, op := range r.Plan.Ops {
		fmt.Fprintf(w, "action:   %s\n", op)
	}
}
