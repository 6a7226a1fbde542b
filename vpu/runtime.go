package vpu

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Predictor adapter. The tensor engine that evaluates the learned model
// is an external collaborator; this file defines the contract the
// façade programs against, the version negotiation read from a
// serialized model, and a thin file loader that hands the weight
// payload to a pluggable engine factory.

// Predictor is the black-box inference engine: it consumes one or more
// concatenated descriptors and returns one scalar per descriptor.
type Predictor interface {
	Predict(descriptors []float32) ([]float32, error)
}

// ModelVersion carries the interface versions a serialized model
// declares. The raw name encodes them as "<name>-<in>-<out>"; a missing
// or unversioned name defaults both interfaces to 1.
type ModelVersion struct {
	raw    string
	input  int
	output int
}

// ParseModelVersion extracts the interface versions from a raw model
// name. An empty name parses as "none" with the default interfaces.
func ParseModelVersion(raw string) ModelVersion {
	v := ModelVersion{raw: raw, input: 1, output: 1}
	if raw == "" {
		v.raw = "none"
		return v
	}
	parts := strings.Split(raw, "-")
	if len(parts) < 3 {
		return v
	}
	in, errIn := strconv.Atoi(parts[len(parts)-2])
	out, errOut := strconv.Atoi(parts[len(parts)-1])
	if errIn == nil && errOut == nil {
		v.input = in
		v.output = out
	}
	return v
}

// InputInterfaceVersion is the descriptor layout the model was trained
// against.
func (v ModelVersion) InputInterfaceVersion() int { return v.input }

// OutputInterfaceVersion is the meaning of the model's output scalar.
func (v ModelVersion) OutputInterfaceVersion() int { return v.output }

// RawName is the unparsed version string from the model file.
func (v ModelVersion) RawName() string { return v.raw }

// supportedOutputVersions lists the output interfaces this package can
// post-process. Version 1 is plain cycles; the retired overhead-ratio
// output is deliberately absent.
var supportedOutputVersions = map[int]bool{1: true}

// OutputSupported reports whether the model's output interface can be
// consumed.
func (v ModelVersion) OutputSupported() bool {
	if v.raw == "none" {
		// An empty model has nothing to post-process.
		return true
	}
	return supportedOutputVersions[v.output]
}

// modelHeader is the fixed preamble of a serialized model file.
type modelHeader struct {
	RawName    string
	BatchSize  int
	InputWidth int
}

// PredictorFactory builds an engine from a model's weight payload.
// Installed by the embedding application (or tests); when nil, models
// load with their version information only and the runtime stays
// uninitialized, which sends every estimate down the analytic path.
var PredictorFactory func(header ModelVersion, batchSize, inputWidth int, payload []byte) (Predictor, error)

// Runtime owns the loaded predictor, if any, together with the shape
// and version contract negotiated from the model file.
type Runtime struct {
	predictor  Predictor
	version    ModelVersion
	batchSize  int
	inputWidth int
}

const modelMagic = "VPUM"

// NewRuntime loads a serialized model. An empty filename or an
// unreadable file yields an uninitialized runtime (analytic fallback),
// matching the contract that only version negotiation may fail
// construction.
func NewRuntime(filename string, batchSize int, log *logrus.Logger) *Runtime {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if batchSize < 1 {
		batchSize = 1
	}
	r := &Runtime{version: ParseModelVersion(""), batchSize: batchSize}
	if filename == "" {
		return r
	}

	header, payload, err := readModelFile(filename)
	if err != nil {
		log.Errorf("cannot load model %q: %v", filename, err)
		return r
	}
	r.version = ParseModelVersion(header.RawName)
	r.batchSize = header.BatchSize
	r.inputWidth = header.InputWidth

	if PredictorFactory == nil {
		log.Warnf("no predictor engine installed, model %q loads version info only", filename)
		return r
	}
	predictor, err := PredictorFactory(r.version, r.batchSize, r.inputWidth, payload)
	if err != nil {
		log.Errorf("predictor engine rejected model %q: %v", filename, err)
		return r
	}
	r.predictor = predictor
	return r
}

// NewRuntimeFromPredictor wraps an already constructed engine. Used by
// embedders that keep their models in memory, and by tests.
func NewRuntimeFromPredictor(p Predictor, version ModelVersion, batchSize, inputWidth int) *Runtime {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Runtime{predictor: p, version: version, batchSize: batchSize, inputWidth: inputWidth}
}

// readModelFile parses the serialized preamble: magic, raw version
// name, batch size, input width, then the opaque engine payload.
func readModelFile(filename string) (modelHeader, []byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return modelHeader{}, nil, fmt.Errorf("read model: %w", err)
	}
	if len(data) < len(modelMagic)+12 || string(data[:len(modelMagic)]) != modelMagic {
		return modelHeader{}, nil, fmt.Errorf("not a serialized model file")
	}
	off := len(modelMagic)
	nameLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if off+nameLen+8 > len(data) {
		return modelHeader{}, nil, fmt.Errorf("truncated model header")
	}
	header := modelHeader{
		RawName: string(data[off : off+nameLen]),
	}
	off += nameLen
	header.BatchSize = int(binary.LittleEndian.Uint32(data[off:]))
	header.InputWidth = int(binary.LittleEndian.Uint32(data[off+4:]))
	off += 8
	if header.BatchSize < 1 || header.InputWidth < 1 {
		return modelHeader{}, nil, fmt.Errorf("model declares invalid input shape (%d, %d)", header.BatchSize, header.InputWidth)
	}
	return header, data[off:], nil
}

// Initialized reports whether a predictor is loaded and usable.
func (r *Runtime) Initialized() bool {
	return r.predictor != nil
}

// Version is the model's declared interface versions.
func (r *Runtime) Version() ModelVersion { return r.version }

// InputShape is the (batch size, descriptor width) the model expects.
func (r *Runtime) InputShape() (int, int) { return r.batchSize, r.inputWidth }

// Predict runs the engine over concatenated descriptors.
func (r *Runtime) Predict(descriptors []float32) ([]float32, error) {
	if r.predictor == nil {
		return nil, fmt.Errorf("predictor not initialized")
	}
	return r.predictor.Predict(descriptors)
}
