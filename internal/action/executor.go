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

package action

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cardinalhq/granulefilter/internal/logctx"
)

// FileOps performs the filesystem side of a plan.
type FileOps interface {
	Copy(src, dst string) error
	Remove(path string) error
}

// OSFileOps works on the local filesystem.
type OSFileOps struct{}

var _ FileOps = OSFileOps{}

// Copy copies the contents and permission bits of src to dst, replacing dst
// if it exists. The destination directory must already exist.
func (OSFileOps) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, fi.Mode().Perm())
}

func (OSFileOps) Remove(path string) error {
	return os.Remove(path)
}

// OpError reports the operation that stopped a plan. Operations before Index
// were applied; none after it were attempted.
type OpError struct {
	Index int
	Op    Op
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("file operation %d %s failed: %v", e.Index, e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Executor runs plans.
type Executor struct {
	fs FileOps
}

// NewExecutor returns an executor backed by fs, or the local filesystem when
// fs is nil.
func NewExecutor(fs FileOps) *Executor {
	if fs == nil {
		fs = OSFileOps{}
	}
	return &Executor{fs: fs}
}

// Execute runs the plan's operations in order and stops at the first failure.
// It returns the number of operations applied.
func (e *Executor) Execute(ctx context.Context, plan Plan) (int, error) {
	logger := logctx.FromContext(ctx)

	for i, op := range plan.Ops {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		var err error
		switch op.Kind {
		case OpCopy:
			err = e.fs.Copy(op.Src, op.Dst)
		case OpRemove:
			err = e.fs.Remove(op.Src)
		default:
			err = fmt.Errorf("unknown operation kind %q", op.Kind)
		}
		if err != nil {
			return i, &OpError{Index: i, Op: op, Err: err}
		}

		switch op.Kind {
		case OpCopy:
			logger.Info("File copied", slog.String("from", op.Src), slog.String("to", op.Dst))
		case OpRemove:
			logger.Info("File removed", slog.String("path", op.Src))
		}
	}
	return len(plan.Ops), nil
}
