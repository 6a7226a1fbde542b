package vpu

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelVersion_Table(t *testing.T) {
	cases := []struct {
		raw     string
		in, out int
	}{
		{"", 1, 1},
		{"unversioned", 1, 1},
		{"vpucost-11-1", 11, 1},
		{"vpucost-v27-dev-0-1", 0, 1},
		{"model-10-2", 10, 2},
		{"model-x-y", 1, 1},
	}
	for _, c := range cases {
		v := ParseModelVersion(c.raw)
		assert.Equal(t, c.in, v.InputInterfaceVersion(), "raw %q", c.raw)
		assert.Equal(t, c.out, v.OutputInterfaceVersion(), "raw %q", c.raw)
	}

	assert.Equal(t, "none", ParseModelVersion("").RawName())
}

func TestModelVersion_OutputSupport(t *testing.T) {
	// Cycles output is supported; the retired overhead ratio is not.
	assert.True(t, ParseModelVersion("m-11-1").OutputSupported())
	assert.False(t, ParseModelVersion("m-11-2").OutputSupported())
	// An empty model has nothing to post-process.
	assert.True(t, ParseModelVersion("").OutputSupported())
}

// writeModelFile serializes a minimal model preamble for loader tests.
func writeModelFile(t *testing.T, rawName string, batch, width uint32, payload []byte) string {
	t.Helper()
	buf := []byte(modelMagic)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rawName)))
	buf = append(buf, rawName...)
	buf = binary.LittleEndian.AppendUint32(buf, batch)
	buf = binary.LittleEndian.AppendUint32(buf, width)
	buf = append(buf, payload...)

	path := filepath.Join(t.TempDir(), "model.vpunn")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestNewRuntime_EmptyFilenameUninitialized(t *testing.T) {
	r := NewRuntime("", 1, quietLogger())
	assert.False(t, r.Initialized())
	assert.Equal(t, "none", r.Version().RawName())

	_, err := r.Predict([]float32{1})
	assert.Error(t, err)
}

func TestNewRuntime_MissingFileUninitialized(t *testing.T) {
	r := NewRuntime(filepath.Join(t.TempDir(), "absent.vpunn"), 1, quietLogger())
	assert.False(t, r.Initialized())
	assert.Equal(t, "none", r.Version().RawName())
}

func TestNewRuntime_HeaderParsedWithoutEngine(t *testing.T) {
	path := writeModelFile(t, "vpucost-11-1", 2, 50, nil)

	r := NewRuntime(path, 1, quietLogger())
	// No engine factory installed: version info only.
	assert.False(t, r.Initialized())
	assert.Equal(t, 11, r.Version().InputInterfaceVersion())
	batch, width := r.InputShape()
	assert.Equal(t, 2, batch)
	assert.Equal(t, 50, width)
}

func TestNewRuntime_EngineFactoryBuildsPredictor(t *testing.T) {
	path := writeModelFile(t, "vpucost-11-1", 1, 50, []byte{1, 2, 3})

	prev := PredictorFactory
	t.Cleanup(func() { PredictorFactory = prev })
	PredictorFactory = func(version ModelVersion, batch, width int, payload []byte) (Predictor, error) {
		assert.Equal(t, []byte{1, 2, 3}, payload)
		return constantPredictor(width, 500), nil
	}

	r := NewRuntime(path, 1, quietLogger())
	require.True(t, r.Initialized())

	out, err := r.Predict(make([]float32, 50))
	require.NoError(t, err)
	assert.Equal(t, []float32{500}, out)
}

func TestNewRuntime_CorruptFileUninitialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.vpunn")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o644))

	r := NewRuntime(path, 1, quietLogger())
	assert.False(t, r.Initialized())
	assert.Equal(t, "none", r.Version().RawName())
}

func TestNewRuntime_InvalidShapeRejected(t *testing.T) {
	path := writeModelFile(t, "vpucost-11-1", 0, 50, nil)

	r := NewRuntime(path, 1, quietLogger())
	assert.False(t, r.Initialized())
	// The broken header is discarded entirely.
	assert.Equal(t, "none", r.Version().RawName())
}
