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

// Package admission decides whether a granule's footprint falls inside one
// of the configured areas.
package admission

import (
	"context"
	"errors"

	"github.com/cardinalhq/granulefilter/internal/granule"
)

var (
	// ErrInconsistentMessage means required message fields are missing or
	// malformed.
	ErrInconsistentMessage = errors.New("inconsistent message")
	// ErrNoValidTLEs means no usable orbital elements exist for the
	// satellite at the granule time.
	ErrNoValidTLEs = errors.New("no valid TLEs")
	// ErrSceneNotSupported means the platform or instrument is not handled.
	ErrSceneNotSupported = errors.New("scene not supported")
)

// Oracle returns the admission verdict for a message.
type Oracle interface {
	Evaluate(ctx context.Context, msg *granule.Message) (bool, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, msg *granule.Message) (bool, error)

func (f OracleFunc) Evaluate(ctx context.Context, msg *granule.Message) (bool, error) {
	return f(ctx, msg)
}

// Kind names the class of an admission failure for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInconsistentMessage):
		return "inconsistent_message"
	case errors.Is(err, ErrNoValidTLEs):
		return "no_valid_tles"
	case errors.Is(err, ErrSceneNotSupported):
		return "scene_not_supported"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "io_error"
	}
}
