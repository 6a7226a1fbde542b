package vpu

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Workload validation and sanitization. The sanitizer runs an ordered
// pipeline of semantics-preserving rewrites and checks; the first
// failing condition is recorded in the SanityReport and stops the
// pipeline. Per-operation rules live in operationBehaviour objects
// dispatched through a map keyed by Operation.

// tensorAlignment is the CMX allocation granularity in bytes.
const tensorAlignment = 16

// deviceCapabilities is the per-generation valid-value table.
type deviceCapabilities struct {
	operations map[Operation]bool
	modes      map[ExecutionMode]bool

	// weightSparseInt allows weight sparsity on integer workloads.
	// Older generations only sparsify float weights.
	weightSparseInt bool
}

var deviceCaps = map[Device]deviceCapabilities{
	DeviceV20: {
		operations: map[Operation]bool{
			OpConvolution: true, OpDWConvolution: true, OpAvePool: true,
			OpMaxPool: true, OpEltwise: true,
		},
		modes: map[ExecutionMode]bool{
			ModeVector: true, ModeMatrix: true, ModeVectorFP16: true,
		},
		weightSparseInt: false,
	},
	DeviceV21: {
		operations: map[Operation]bool{
			OpConvolution: true, OpDWConvolution: true, OpAvePool: true,
			OpMaxPool: true, OpEltwise: true,
		},
		modes: map[ExecutionMode]bool{
			ModeVector: true, ModeMatrix: true, ModeVectorFP16: true,
		},
		weightSparseInt: false,
	},
	DeviceV27: {
		operations: map[Operation]bool{
			OpConvolution: true, OpCMConvolution: true, OpDWConvolution: true,
			OpAvePool: true, OpMaxPool: true, OpEltwise: true,
		},
		modes: map[ExecutionMode]bool{
			ModeCuboid4x16: true, ModeCuboid8x16: true, ModeCuboid16x16: true,
		},
		weightSparseInt: true,
	},
	DeviceV40: {
		operations: map[Operation]bool{
			OpConvolution: true, OpCMConvolution: true, OpDWConvolution: true,
			OpAvePool: true, OpMaxPool: true, OpEltwise: true,
		},
		modes: map[ExecutionMode]bool{
			ModeCuboid4x16: true, ModeCuboid8x16: true, ModeCuboid16x16: true,
		},
		weightSparseInt: true,
	},
}

// supportsCuboids reports whether the device belongs to the Cuboid
// execution-mode generations (V27 and later real devices).
func supportsCuboids(d Device) bool {
	return d == DeviceV27 || d == DeviceV40
}

func alignUp(bytes uint64) uint64 {
	return (bytes + tensorAlignment - 1) / tensorAlignment * tensorAlignment
}

// --- per-operation dynamic constraints ---

// operationBehaviour is the capability set an operation contributes to
// validation: weight deduction, strategy filters and correlation rules.
type operationBehaviour interface {
	// Input1Volume is the weight (input 1) element count.
	Input1Volume(wl *DPUWorkload) uint64

	// Input1AlignedBytes is the CMX footprint of the weights.
	Input1AlignedBytes(wl *DPUWorkload) uint64

	// FilterISIStrategies removes strategies the operation cannot run.
	FilterISIStrategies(in []ISIStrategy) []ISIStrategy

	// FilterOutputWriteTiles removes broadcast counts the operation
	// cannot produce.
	FilterOutputWriteTiles(in []uint) []uint

	// LimitSparsity clamps or disables sparsity the operation cannot
	// exploit.
	LimitSparsity(wl *DPUWorkload)

	// CheckInputOutputCorrelation verifies the output dims follow from
	// input dims, kernel, stride and padding.
	CheckInputOutputCorrelation(wl *DPUWorkload) (bool, string)

	// CheckSparsity verifies sparsity settings against the operation
	// and device rules.
	CheckSparsity(caps deviceCapabilities, wl *DPUWorkload) (bool, string)
}

// baseBehaviour provides the defaults shared by every operation.
type baseBehaviour struct{}

func (baseBehaviour) FilterISIStrategies(in []ISIStrategy) []ISIStrategy { return in }

func (baseBehaviour) FilterOutputWriteTiles(in []uint) []uint { return in }

func (baseBehaviour) LimitSparsity(*DPUWorkload) {}

// checkKernelGeometry verifies the shared geometric invariants: kernel
// and stride positive, padding at most kernel-1, output dims matching
// the floor formula.
func checkKernelGeometry(wl *DPUWorkload) (bool, string) {
	in, out := &wl.Inputs[0], &wl.Outputs[0]
	kx, ky := wl.Kernels[0], wl.Kernels[1]
	sx, sy := wl.Strides[0], wl.Strides[1]

	if kx == 0 || ky == 0 {
		return false, fmt.Sprintf("kernel must be positive, got %dx%d", kx, ky)
	}
	if sx == 0 || sy == 0 {
		return false, fmt.Sprintf("stride must be positive, got %dx%d", sx, sy)
	}
	top, left, bottom, right := wl.Padding[0], wl.Padding[1], wl.Padding[2], wl.Padding[3]
	if left >= kx || right >= kx || top >= ky || bottom >= ky {
		return false, fmt.Sprintf("padding %v exceeds kernel-1 for kernel %dx%d", wl.Padding, kx, ky)
	}

	if in.X()+left+right < kx || in.Y()+top+bottom < ky {
		return false, fmt.Sprintf("kernel %dx%d larger than padded input %dx%d", kx, ky, in.X(), in.Y())
	}
	expectX := (in.X()+left+right-kx)/sx + 1
	expectY := (in.Y()+top+bottom-ky)/sy + 1
	if out.X() != expectX || out.Y() != expectY {
		return false, fmt.Sprintf("output %dx%d does not follow from input %dx%d kernel %dx%d stride %dx%d padding %v (expected %dx%d)",
			out.X(), out.Y(), in.X(), in.Y(), kx, ky, sx, sy, wl.Padding, expectX, expectY)
	}
	return true, ""
}

// checkWeightSparsity holds the rules common to operations that carry
// weights.
func checkWeightSparsity(caps deviceCapabilities, wl *DPUWorkload) (bool, string) {
	if wl.WeightSparsityEnabled {
		if wl.WeightSparsity < 0 || wl.WeightSparsity > 1 {
			return false, fmt.Sprintf("weight sparsity density %v outside [0,1]", wl.WeightSparsity)
		}
		if !wl.Inputs[0].Dtype.IsFloat() && !caps.weightSparseInt {
			return false, "weight sparsity not supported for integer types on this device"
		}
	}
	if wl.ActSparsity < 0 || wl.ActSparsity > 1 {
		return false, fmt.Sprintf("input sparsity rate %v outside [0,1]", wl.ActSparsity)
	}
	return true, ""
}

// convBehaviour covers CONVOLUTION and CM_CONVOLUTION.
type convBehaviour struct{ baseBehaviour }

func (convBehaviour) Input1Volume(wl *DPUWorkload) uint64 {
	return uint64(wl.Kernels[0]) * uint64(wl.Kernels[1]) *
		uint64(wl.InputChannels()) * uint64(wl.OutputChannels())
}

func (b convBehaviour) Input1AlignedBytes(wl *DPUWorkload) uint64 {
	return alignUp(b.Input1Volume(wl) * uint64(wl.Inputs[0].Dtype.Bytes()))
}

func (convBehaviour) CheckInputOutputCorrelation(wl *DPUWorkload) (bool, string) {
	return checkKernelGeometry(wl)
}

func (convBehaviour) CheckSparsity(caps deviceCapabilities, wl *DPUWorkload) (bool, string) {
	return checkWeightSparsity(caps, wl)
}

// dwBehaviour covers DW_CONVOLUTION: one kernel plane per channel. The
// pool operations reuse its correlation check through poolBehaviour.
type dwBehaviour struct{ baseBehaviour }

func (dwBehaviour) Input1Volume(wl *DPUWorkload) uint64 {
	return uint64(wl.Kernels[0]) * uint64(wl.Kernels[1]) * uint64(wl.OutputChannels())
}

func (b dwBehaviour) Input1AlignedBytes(wl *DPUWorkload) uint64 {
	return alignUp(b.Input1Volume(wl) * uint64(wl.Inputs[0].Dtype.Bytes()))
}

func (dwBehaviour) CheckInputOutputCorrelation(wl *DPUWorkload) (bool, string) {
	if wl.InputChannels() != wl.OutputChannels() {
		return false, fmt.Sprintf("channel-preserving operation with ic=%d oc=%d", wl.InputChannels(), wl.OutputChannels())
	}
	return checkKernelGeometry(wl)
}

func (dwBehaviour) CheckSparsity(caps deviceCapabilities, wl *DPUWorkload) (bool, string) {
	return checkWeightSparsity(caps, wl)
}

// poolBehaviour has no weights at all.
type poolBehaviour struct{ dwBehaviour }

func (poolBehaviour) Input1Volume(*DPUWorkload) uint64 { return 0 }

func (poolBehaviour) Input1AlignedBytes(*DPUWorkload) uint64 { return 0 }

func (poolBehaviour) LimitSparsity(wl *DPUWorkload) {
	// Pools read activations only; a weight sparsity request is noise
	// from upstream conversions and is dropped rather than rejected.
	wl.WeightSparsityEnabled = false
	wl.WeightSparsity = 0
}

func (poolBehaviour) CheckSparsity(caps deviceCapabilities, wl *DPUWorkload) (bool, string) {
	if wl.ActSparsity < 0 || wl.ActSparsity > 1 {
		return false, fmt.Sprintf("input sparsity rate %v outside [0,1]", wl.ActSparsity)
	}
	return true, ""
}

// eltwiseBehaviour is element-wise: no weights, unit kernel, identical
// input and output geometry.
type eltwiseBehaviour struct{ baseBehaviour }

func (eltwiseBehaviour) Input1Volume(wl *DPUWorkload) uint64 {
	// The second operand mirrors the first.
	return wl.Inputs[0].Volume()
}

func (eltwiseBehaviour) Input1AlignedBytes(wl *DPUWorkload) uint64 {
	return alignUp(wl.Inputs[0].Size())
}

func (eltwiseBehaviour) FilterISIStrategies(in []ISIStrategy) []ISIStrategy {
	// Element-wise cannot split over K: both operands would need the
	// full channel range on every tile.
	out := make([]ISIStrategy, 0, len(in))
	for _, s := range in {
		if s != ISISplitOverK {
			out = append(out, s)
		}
	}
	return out
}

func (eltwiseBehaviour) FilterOutputWriteTiles(in []uint) []uint {
	// No broadcast for element-wise outputs.
	out := make([]uint, 0, len(in))
	for _, t := range in {
		if t == 1 {
			out = append(out, t)
		}
	}
	return out
}

func (eltwiseBehaviour) CheckInputOutputCorrelation(wl *DPUWorkload) (bool, string) {
	if wl.Kernels[0] != 1 || wl.Kernels[1] != 1 {
		return false, fmt.Sprintf("eltwise kernel must be 1x1, got %dx%d", wl.Kernels[0], wl.Kernels[1])
	}
	in, out := &wl.Inputs[0], &wl.Outputs[0]
	if in.X() != out.X() || in.Y() != out.Y() || in.Channels() != out.Channels() {
		return false, fmt.Sprintf("eltwise input %v and output %v must match", in, out)
	}
	return true, ""
}

func (eltwiseBehaviour) CheckSparsity(caps deviceCapabilities, wl *DPUWorkload) (bool, string) {
	if wl.WeightSparsityEnabled {
		return false, "eltwise has no weights, weight sparsity not applicable"
	}
	if wl.ActSparsity < 0 || wl.ActSparsity > 1 {
		return false, fmt.Sprintf("input sparsity rate %v outside [0,1]", wl.ActSparsity)
	}
	return true, ""
}

// operationsBehaviour dispatches the constraint objects by operation.
var operationsBehaviour = map[Operation]operationBehaviour{
	OpConvolution:   convBehaviour{},
	OpCMConvolution: convBehaviour{},
	OpDWConvolution: dwBehaviour{},
	OpAvePool:       poolBehaviour{},
	OpMaxPool:       poolBehaviour{},
	OpEltwise:       eltwiseBehaviour{},
}

// --- sanitizer ---

// DPUSanitizer normalizes workloads and checks them against the device
// valid-value tables and the per-operation constraints.
type DPUSanitizer struct {
	log *logrus.Logger
}

// NewDPUSanitizer builds a sanitizer logging rewrites to log (nil means
// the standard logger).
func NewDPUSanitizer(log *logrus.Logger) *DPUSanitizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DPUSanitizer{log: log}
}

// CheckAndSanitize runs the full pipeline on wl, rewriting it in place
// and recording the first failing condition in report. On return, a
// usable report means wl is safe to feed to the predictor.
func (s *DPUSanitizer) CheckAndSanitize(wl *DPUWorkload, report *SanityReport) {
	// Rewrites first: they decide which tables the checks consult.
	s.avgpoolReplace(wl)
	if !s.compressedConvReplace(wl, report) {
		return
	}
	s.alignPreservedChannels(wl)

	caps, ok := deviceCaps[wl.Device]
	if !ok {
		report.fail(ErrorInvalidInputConfiguration, fmt.Sprintf("device %s is not supported", wl.Device))
		return
	}

	if wl.Op == OpInvalid || !caps.operations[wl.Op] {
		report.fail(ErrorInvalidInputOperation, fmt.Sprintf("operation %s is not supported on %s", wl.Op, wl.Device))
		return
	}

	behaviour := operationsBehaviour[wl.Op]

	if !s.checkMemoryResidency(wl, behaviour, report) {
		return
	}

	if ok, info := behaviour.CheckInputOutputCorrelation(wl); !ok {
		report.fail(ErrorInvalidInputConfiguration, info)
		return
	}

	behaviour.LimitSparsity(wl)
	if ok, info := behaviour.CheckSparsity(caps, wl); !ok {
		report.fail(ErrorInvalidInputConfiguration, info)
		return
	}

	if !caps.modes[wl.ExecutionMode] {
		report.fail(ErrorInvalidInputConfiguration,
			fmt.Sprintf("execution mode %s is not valid on %s", wl.ExecutionMode, wl.Device))
		return
	}

	s.normalizeDatatypes(wl)
}

// avgpoolReplace simulates AVEPOOL with the equivalent depthwise
// convolution the predictor was trained on.
func (s *DPUSanitizer) avgpoolReplace(wl *DPUWorkload) {
	if wl.Op == OpAvePool {
		s.log.Warn("workload with AVEPOOL changed to DW_CONVOLUTION")
		wl.Op = OpDWConvolution
	}
}

// compressedConvReplace presumes any V27+ convolution with 1 < ic < 16
// to run as compressed convolution. A single input channel cannot be
// compressed and has no dense path either, so it is rejected outright.
func (s *DPUSanitizer) compressedConvReplace(wl *DPUWorkload, report *SanityReport) bool {
	if !supportsCuboids(wl.Device) || wl.Op != OpConvolution {
		return true
	}
	ic := wl.InputChannels()
	switch {
	case ic == 1:
		report.fail(ErrorInvalidInputConfiguration,
			fmt.Sprintf("convolution with a single input channel is not supported on %s", wl.Device))
		return false
	case ic < 16:
		s.log.Warnf("workload with CONVOLUTION compressed IC[2..15] transformed to CM_CONV (ic=%d)", ic)
		wl.Op = OpCMConvolution
	}
	return true
}

// alignPreservedChannels forces input channels to match output channels
// for channel-preserving operations.
func (s *DPUSanitizer) alignPreservedChannels(wl *DPUWorkload) {
	if !wl.Op.IsChannelPreserving() {
		return
	}
	in, out := &wl.Inputs[0], &wl.Outputs[0]
	if in.Channels() != out.Channels() {
		s.log.Warnf("changed input channels from %d to %d", in.Channels(), out.Channels())
		in.Shape[2] = out.Channels()
	}
}

// checkMemoryResidency sums the aligned activation, weight and output
// footprints against the device scratchpad.
func (s *DPUSanitizer) checkMemoryResidency(wl *DPUWorkload, behaviour operationBehaviour, report *SanityReport) bool {
	footprint := alignUp(wl.Inputs[0].Size()) +
		behaviour.Input1AlignedBytes(wl) +
		alignUp(wl.Outputs[0].Size())

	capacity := CMXSize(wl.Device)
	if footprint > capacity {
		report.fail(ErrorInputTooBig,
			fmt.Sprintf("workload needs %d bytes of CMX, device %s has %d", footprint, wl.Device, capacity))
		return false
	}
	return true
}

// normalizeDatatypes canonicalizes mixed float types to FLOAT16 and
// signed 8-bit to UINT8; the predictor interfaces model one float and
// one integer variant per generation.
func (s *DPUSanitizer) normalizeDatatypes(wl *DPUWorkload) {
	in, out := &wl.Inputs[0], &wl.Outputs[0]
	if in.Dtype.IsFloat() && out.Dtype.IsFloat() && in.Dtype != out.Dtype {
		s.log.Warnf("mixed float types %s/%s canonicalized to FLOAT16", in.Dtype, out.Dtype)
		in.Dtype = TypeFloat16
		out.Dtype = TypeFloat16
	}
	if in.Dtype == TypeInt8 {
		in.Dtype = TypeUInt8
	}
	if out.Dtype == TypeInt8 {
		out.Dtype = TypeUInt8
	}
}
