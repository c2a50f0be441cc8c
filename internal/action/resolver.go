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

// Package action maps a filtering verdict to the file operations that
// distribute or remove a granule.
package action

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cardinalhq/granulefilter/internal/granule"
	"github.com/cardinalhq/granulefilter/internal/platform"
)

var (
	ErrUnsupportedPlatform   = errors.New("unsupported platform")
	ErrUnsupportedInstrument = errors.New("unsupported instrument")
	ErrMissingProduct        = errors.New("missing product")
)

const fileTimeLayout = "0601021504"

// Filename returns the canonical output filename for a granule.
func Filename(rawPlatform, instrument, product string, start time.Time) (string, error) {
	name, letter, ok := platform.Resolve(rawPlatform)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, name)
	}
	stamp := start.UTC().Format(fileTimeLayout)

	switch strings.ToLower(instrument) {
	case "iasi":
		// iasi_b__twt_l2p_1706211005.bin
		return fmt.Sprintf("iasi_%s__twt_l2p_%s.bin", letter, stamp), nil
	case "ascat":
		// ascat_a_earscoa_1706211058.bin
		if product == "" {
			return "", fmt.Errorf("%w: ascat granule needs a product name", ErrMissingProduct)
		}
		code := []rune(product)
		if len(code) > 3 {
			code = code[:3]
		}
		return fmt.Sprintf("ascat_%s_ears%s_%s.bin", letter, strings.ToLower(string(code)), stamp), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedInstrument, instrument)
	}
}

// OpKind is the kind of a file operation.
type OpKind string

const (
	OpCopy   OpKind = "copy"
	OpRemove OpKind = "remove"
)

// Op is one file operation. Dst is empty for removals.
type Op struct {
	Kind OpKind
	Src  string
	Dst  string
}

func (o Op) String() string {
	if o.Kind == OpRemove {
		return fmt.Sprintf("remove(%s)", o.Src)
	}
	return fmt.Sprintf("%s(%s, %s)", o.Kind, o.Src, o.Dst)
}

// Notes explaining why a plan carries no operations.
const (
	NoteDistributionNotConfigured = "distribution_not_configured"
	NoteDryRun                    = "dry_run"
	NoteNoActionConfigured        = "no_action_configured"
)

// Plan is the outcome of resolving a granule: the canonical filename (empty
// for rejected granules) and the ordered operations to run.
type Plan struct {
	Admitted bool
	Filename string
	Ops      []Op
	Note     string
}

// Distributes reports whether the plan copies the granule somewhere.
func (p Plan) Distributes() bool {
	return len(p.Ops) > 0 && p.Ops[0].Kind == OpCopy
}

// Removes reports whether the plan deletes the source file.
func (p Plan) Removes() bool {
	return len(p.Ops) > 0 && p.Ops[0].Kind == OpRemove
}

// Settings are the options the resolver reads.
type Settings struct {
	SirLocalDir string
	SirDir      string
	Delete      bool
	DryRun      bool
}

// Resolver turns verdicts into plans.
type Resolver struct {
	settings Settings
}

func NewResolver(settings Settings) *Resolver {
	return &Resolver{settings: settings}
}

// Plan builds the action plan for msg with source file src. The filename is
// resolved for every admitted granule, so unsupported platforms and
// instruments are reported even when distribution is off.
func (r *Resolver) Plan(msg *granule.Message, src string, admitted bool) (Plan, error) {
	if !admitted {
		return r.rejectedPlan(src), nil
	}

	filename, err := Filename(msg.Satellite, msg.Instrument(), msg.Product, msg.StartTime)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Admitted: true, Filename: filename}
	if r.settings.SirLocalDir == "" {
		plan.Note = NoteDistributionNotConfigured
		return plan, nil
	}

	local := filepath.Join(r.settings.SirLocalDir, filename)
	plan.Ops = []Op{
		{Kind: OpCopy, Src: src, Dst: local},
		{Kind: OpCopy, Src: local, Dst: filepath.Join(r.settings.SirDir, filename+"_original")},
	}
	return plan, nil
}

func (r *Resolver) rejectedPlan(src string) Plan {
	switch {
	case !r.settings.Delete:
		return Plan{Note: NoteNoActionConfigured}
	case r.settings.DryRun:
		return Plan{Note: NoteDryRun}
	default:
		return Plan{Ops: []Op{{Kind: OpRemove, Src: src}}}
	}
}
