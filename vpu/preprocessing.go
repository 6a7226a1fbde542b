package vpu

import "fmt"

// NN descriptor preprocessing. Each interface version serializes a
// workload into the fixed-width float vector the predictor of that
// version was trained against. The layouts below are binary-stable
// contracts: field order and one-hot widths must never change for a
// released version.

// Preprocessor converts workloads into NN descriptors for one interface
// version.
type Preprocessor interface {
	// InterfaceVersion identifies the descriptor layout.
	InterfaceVersion() int

	// OutputSize is the descriptor width in floats.
	OutputSize() int

	// SetSize forces the descriptor width to match a model's input
	// width: shorter truncates, longer zero-extends. Unsafe by design;
	// the façade uses it only after warning.
	SetSize(n int)

	// Transform serializes one workload. The returned slice aliases an
	// internal scratch buffer valid until the next Transform call.
	Transform(wl *DPUWorkload) []float32

	// TransformBatch serializes all workloads back to back, zero-padded
	// so the total count is a multiple of batchSize. The returned slice
	// is invalidated by the next call.
	TransformBatch(wls []DPUWorkload, batchSize int) []float32
}

// descriptorWriter appends fields into a fixed-width window, dropping
// anything past the window and zero-filling anything never written.
type descriptorWriter struct {
	buf []float32
	pos int
}

func (w *descriptorWriter) value(v float32) {
	if w.pos < len(w.buf) {
		w.buf[w.pos] = v
	}
	w.pos++
}

func (w *descriptorWriter) oneHot(index, width int) {
	for i := 0; i < width; i++ {
		if i == index {
			w.value(1)
		} else {
			w.value(0)
		}
	}
}

func (w *descriptorWriter) tensorShape(t *VPUTensor) {
	w.value(float32(t.X()))
	w.value(float32(t.Y()))
	w.value(float32(t.Channels()))
	w.value(float32(t.Batch()))
}

func boolToFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// preprocessorBase carries the resizable scratch buffer shared by all
// layout versions.
type preprocessorBase struct {
	size int
	buf  []float32
}

func (p *preprocessorBase) OutputSize() int { return p.size }

func (p *preprocessorBase) SetSize(n int) {
	p.size = n
	p.buf = nil
}

func (p *preprocessorBase) window() []float32 {
	if len(p.buf) != p.size {
		p.buf = make([]float32, p.size)
	} else {
		for i := range p.buf {
			p.buf[i] = 0
		}
	}
	return p.buf
}

// transformBatch runs an encoder over every workload into one
// contiguous buffer padded to a whole number of batches.
func transformBatch(size int, wls []DPUWorkload, batchSize int, encode func(*DPUWorkload, []float32)) []float32 {
	if batchSize < 1 {
		batchSize = 1
	}
	padded := (len(wls) + batchSize - 1) / batchSize * batchSize
	out := make([]float32, padded*size)
	for i := range wls {
		encode(&wls[i], out[i*size:(i+1)*size])
	}
	return out
}

// --- interface 01 (base) ---

// PreprocessingInterface01 is the original descriptor: device,
// operation, tensors, kernel geometry and execution mode. 40 floats.
type PreprocessingInterface01 struct {
	preprocessorBase
}

const interface01Size = 40

// NewPreprocessingInterface01 builds the base-layout preprocessor.
func NewPreprocessingInterface01() *PreprocessingInterface01 {
	p := &PreprocessingInterface01{}
	p.size = interface01Size
	return p
}

func (p *PreprocessingInterface01) InterfaceVersion() int { return 1 }

func encodeInterface01(wl *DPUWorkload, out []float32) {
	w := descriptorWriter{buf: out}
	w.oneHot(int(wl.Device), 4)
	w.oneHot(int(wl.Op), 6)
	w.tensorShape(&wl.Inputs[0])
	w.oneHot(int(wl.Inputs[0].Dtype), 4)
	w.tensorShape(&wl.Outputs[0])
	w.oneHot(int(wl.Outputs[0].Dtype), 4)
	w.value(float32(wl.Kernels[0]))
	w.value(float32(wl.Kernels[1]))
	w.value(float32(wl.Strides[0]))
	w.value(float32(wl.Strides[1]))
	for _, p := range wl.Padding {
		w.value(float32(p))
	}
	w.oneHot(int(wl.ExecutionMode), 6)
}

func (p *PreprocessingInterface01) Transform(wl *DPUWorkload) []float32 {
	buf := p.window()
	encodeInterface01(wl, buf)
	return buf
}

func (p *PreprocessingInterface01) TransformBatch(wls []DPUWorkload, batchSize int) []float32 {
	return transformBatch(p.size, wls, batchSize, encodeInterface01)
}

// --- interface 10 ---

// PreprocessingInterface10 extends the base layout with the sparsity
// fields. 43 floats.
type PreprocessingInterface10 struct {
	preprocessorBase
}

const interface10Size = interface01Size + 3

// NewPreprocessingInterface10 builds the sparsity-aware preprocessor.
func NewPreprocessingInterface10() *PreprocessingInterface10 {
	p := &PreprocessingInterface10{}
	p.size = interface10Size
	return p
}

func (p *PreprocessingInterface10) InterfaceVersion() int { return 10 }

func encodeInterface10(wl *DPUWorkload, out []float32) {
	encodeInterface01(wl, out)
	w := descriptorWriter{buf: out, pos: interface01Size}
	w.value(float32(wl.ActSparsity))
	w.value(boolToFloat(wl.WeightSparsityEnabled))
	w.value(float32(wl.WeightSparsity))
}

func (p *PreprocessingInterface10) Transform(wl *DPUWorkload) []float32 {
	buf := p.window()
	encodeInterface10(wl, buf)
	return buf
}

func (p *PreprocessingInterface10) TransformBatch(wls []DPUWorkload, batchSize int) []float32 {
	return transformBatch(p.size, wls, batchSize, encodeInterface10)
}

// --- interface 11 ---

// PreprocessingInterface11 adds the multi-tile fields: ISI strategy,
// output write tiles and swizzling keys. 50 floats.
type PreprocessingInterface11 struct {
	preprocessorBase
}

const interface11Size = interface10Size + 3 + 1 + 3

// NewPreprocessingInterface11 builds the multi-tile preprocessor.
func NewPreprocessingInterface11() *PreprocessingInterface11 {
	p := &PreprocessingInterface11{}
	p.size = interface11Size
	return p
}

func (p *PreprocessingInterface11) InterfaceVersion() int { return 11 }

func encodeInterface11(wl *DPUWorkload, out []float32) {
	encodeInterface10(wl, out)
	w := descriptorWriter{buf: out, pos: interface10Size}
	w.oneHot(int(wl.ISIStrategy), 3)
	w.value(float32(wl.OutputWriteTiles))
	w.value(float32(wl.InputSwizzling[0]))
	w.value(float32(wl.InputSwizzling[1]))
	w.value(float32(wl.OutputSwizzling))
}

func (p *PreprocessingInterface11) Transform(wl *DPUWorkload) []float32 {
	buf := p.window()
	encodeInterface11(wl, buf)
	return buf
}

func (p *PreprocessingInterface11) TransformBatch(wls []DPUWorkload, batchSize int) []float32 {
	return transformBatch(p.size, wls, batchSize, encodeInterface11)
}

// --- latest ---

// PreprocessingLatest tracks the newest layout under the development
// version number 0. Models trained against "latest" pin themselves to
// whatever the current head layout is; today that is the interface 11
// field set.
type PreprocessingLatest struct {
	PreprocessingInterface11
}

// NewPreprocessingLatest builds the development-head preprocessor.
func NewPreprocessingLatest() *PreprocessingLatest {
	p := &PreprocessingLatest{}
	p.size = interface11Size
	return p
}

func (p *PreprocessingLatest) InterfaceVersion() int { return 0 }

// --- registry ---

// PreprocessingFactory owns one shared preprocessor instance per known
// interface version. Returned preprocessors stay owned by the factory
// and must not outlive it.
type PreprocessingFactory struct {
	registry map[int]Preprocessor
}

// NewPreprocessingFactory builds the registry over all known versions.
func NewPreprocessingFactory() *PreprocessingFactory {
	pps := []Preprocessor{
		NewPreprocessingLatest(),
		NewPreprocessingInterface01(),
		NewPreprocessingInterface10(),
		NewPreprocessingInterface11(),
	}
	registry := make(map[int]Preprocessor, len(pps))
	for _, pp := range pps {
		registry[pp.InterfaceVersion()] = pp
	}
	return &PreprocessingFactory{registry: registry}
}

// Exists reports whether a preprocessor is registered for a version.
func (f *PreprocessingFactory) Exists(version int) bool {
	_, ok := f.registry[version]
	return ok
}

// Preprocessor returns the shared instance for a version.
func (f *PreprocessingFactory) Preprocessor(version int) (Preprocessor, error) {
	pp, ok := f.registry[version]
	if !ok {
		return nil, fmt.Errorf("preprocessing cannot be created for version %d", version)
	}
	return pp, nil
}
