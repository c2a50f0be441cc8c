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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/granulefilter/config"
	"github.com/cardinalhq/granulefilter/internal/action"
	"github.com/cardinalhq/granulefilter/internal/admission"
	"github.com/cardinalhq/granulefilter/internal/alert"
	"github.com/cardinalhq/granulefilter/internal/granule"
)

func TestRunRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"nothing", []string{}},
		{"no config", []string{"-s", "iasi-lvl2", "-e", "utv"}},
		{"no service", []string{"-c", "/etc/filter.yaml", "-e", "utv"}},
		{"no environment", []string{"-c", "/etc/filter.yaml", "-s", "iasi-lvl2"}},
		{"template config", []string{"-c", "/etc/product_filter_config.yaml_template", "-s", "iasi-lvl2", "-e", "utv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRunCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(&out)
			cmd.SetErr(&out)

			err := cmd.Execute()
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrUsage)
			assert.Contains(t, out.String(), "Usage:")
		})
	}
}

func TestRunConfigErrorSkipsUsage(t *testing.T) {
	var out bytes.Buffer
	cmd := newRunCmd()
	cmd.SetArgs([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml"), "-s", "svc", "-e", "utv"})
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.Execute()
	require.Error(t, err)
	assert.False(t, errors.Is(err, config.ErrUsage))
	assert.NotContains(t, out.String(), "Usage:")
}

func iasiLine(t *testing.T, typ string, data map[string]any) []byte {
	t.Helper()
	line, err := granule.Encode("/EPSSGA/1B/IASI", typ, "eumetcast@receiver",
		time.Date(2017, 6, 21, 10, 20, 0, 0, time.UTC), data)
	require.NoError(t, err)
	return line
}

func iasiData() map[string]any {
	return map[string]any{
		"uri":         "ssh://receiver/data/in/IASI_SND_02_M01_20170621100500Z.bin",
		"start_time":  "2017-06-21T10:05:00",
		"satellite":   "METOPB",
		"instruments": "iasi",
	}
}

func TestEvaluateMessageAdmitted(t *testing.T) {
	oracle := admission.OracleFunc(func(context.Context, *granule.Message) (bool, error) { return true, nil })
	resolver := action.NewResolver(action.Settings{SirLocalDir: "/data/sir/local", SirDir: "/data/sir"})

	res, err := evaluateMessage(context.Background(), oracle, resolver, iasiLine(t, granule.TypeFile, iasiData()))
	require.NoError(t, err)
	assert.Equal(t, "201706211005", res.Scene.String())
	assert.Equal(t, "/data/in/IASI_SND_02_M01_20170621100500Z.bin", res.Path)
	assert.True(t, res.Admitted)
	require.Len(t, res.Plan.Ops, 2)

	var out bytes.Buffer
	res.write(&out)
	assert.Contains(t, out.String(), "filename: iasi_b__twt_l2p_1706211005.bin")
	assert.Contains(t, out.String(), "action:   copy(/data/in/IASI_SND_02_M01_20170621100500Z.bin, /data/sir/local/iasi_b__twt_l2p_1706211005.bin)")
	assert.Contains(t, out.String(), "action:   copy(/data/sir/local/iasi_b__twt_l2p_1706211005.bin, /data/sir/iasi_b__twt_l2p_1706211005.bin_original)")
}

func TestEvaluateMessageRejectedDryRun(t *testing.T) {
	oracle := admission.OracleFunc(func(context.Context, *granule.Message) (bool, error) { return false, nil })
	resolver := action.NewResolver(action.Settings{Delete: true, DryRun: true})

	res, err := evaluateMessage(context.Background(), oracle, resolver, iasiLine(t, granule.TypeFile, iasiData()))
	require.NoError(t, err)
	assert.False(t, res.Admitted)

	var out bytes.Buffer
	res.write(&out)
	assert.Contains(t, out.String(), "admitted: false")
	assert.Contains(t, out.String(), "action:   dry run")
}

func TestEvaluateMessageAdmissionError(t *testing.T) {
	oracle := admission.OracleFunc(func(context.Context, *granule.Message) (bool, error) {
		return false, admission.ErrSceneNotSupported
	})
	res, err := evaluateMessage(context.Background(), oracle, action.NewResolver(action.Settings{}),
		iasiLine(t, granule.TypeFile, iasiData()))
	require.NoError(t, err)
	assert.Equal(t, "admission_scene_not_supported", res.ErrorKind)

	var out bytes.Buffer
	res.write(&out)
	assert.Contains(t, out.String(), "skipped:  admission_scene_not_supported")
}

func TestEvaluateMessageUnsupportedInstrument(t *testing.T) {
	data := iasiData()
	data["instruments"] = []string{"avhrr/3"}
	oracle := admission.OracleFunc(func(context.Context, *granule.Message) (bool, error) { return true, nil })

	res, err := evaluateMessage(context.Background(), oracle, action.NewResolver(action.Settings{}),
		iasiLine(t, granule.TypeFile, data))
	require.NoError(t, err)
	assert.Equal(t, "unsupported", res.ErrorKind)
	assert.ErrorIs(t, res.Err, action.ErrUnsupportedInstrument)
}

func TestEvaluateMessageRejectsUnusable(t *testing.T) {
	oracle := admission.OracleFunc(func(context.Context, *granule.Message) (bool, error) {
		t.Fatal("oracle must not be called")
		return false, nil
	})
	resolver := action.NewResolver(action.Settings{})

	_, err := evaluateMessage(context.Background(), oracle, resolver, []byte("garbage"))
	assert.ErrorIs(t, err, granule.ErrMalformed)

	_, err = evaluateMessage(context.Background(), oracle, resolver, iasiLine(t, granule.TypeDel, iasiData()))
	assert.Error(t, err)

	data := iasiData()
	delete(data, "start_time")
	_, err = evaluateMessage(context.Background(), oracle, resolver, iasiLine(t, granule.TypeFile, data))
	assert.ErrorIs(t, err, granule.ErrMalformed)
}

func TestReadMessage(t *testing.T) {
	b, err := readMessage("-", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(b))

	path := filepath.Join(t.TempDir(), "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o600))
	b, err = readMessage(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from file", string(b))

	_, err = readMessage(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

type recordingHandler struct {
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	extra := &recordingHandler{}
	logger := newLogger(telemetrySettings{
		ServiceName: serviceName,
		InstanceID:  "abc123",
		Extra:       []slog.Handler{extra},
	}, &out, false)

	logger.Debug("hidden")
	logger.Log(context.Background(), alert.LevelCritical, "copy failed")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "level=CRITICAL")
	assert.Contains(t, out.String(), "instanceID=abc123")
	require.Len(t, extra.records, 2, "extra handlers see every record")
	assert.Equal(t, alert.LevelCritical, extra.records[1].Level)
}

func TestNewLoggerVerbose(t *testing.T) {
	var out bytes.Buffer
	newLogger(telemetrySettings{ServiceName: serviceName, Verbose: true}, &out, false).Debug("shown")
	assert.Contains(t, out.String(), "shown")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.NotEmpty(t, strings.TrimSpace(out.String()))
}
