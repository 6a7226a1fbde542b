package vpu

import "math"

// DPUWorkload is one hardware task dispatched to a DPU tile. Workloads
// are passed to the cost model by value; the sanitizer may rewrite the
// operation and the input channel count of its local copy, the caller's
// workload is never touched.
type DPUWorkload struct {
	Device Device
	Op     Operation

	// Inputs holds the activation tensor. Weights (input 1) are never
	// stored on the workload; their volume is deduced per operation.
	Inputs  [1]VPUTensor
	Outputs [1]VPUTensor

	Kernels [2]uint // kernel width, kernel height
	Strides [2]uint // stride width, stride height
	Padding [4]uint // top, left, bottom, right

	ExecutionMode ExecutionMode

	// ActSparsity is the input (activation) sparsity rate in [0,1].
	// It takes effect only when the input tensor carries a sparsity map.
	ActSparsity float64

	// WeightSparsity is the weight sparsity rate in [0,1], meaningful
	// only when WeightSparsityEnabled is set.
	WeightSparsity        float64
	WeightSparsityEnabled bool

	InputSwizzling  [2]Swizzling // input 0 and input 1 (weights)
	OutputSwizzling Swizzling

	// OutputWriteTiles is the number of CMX tiles the output is
	// broadcast to (1 = no broadcast).
	OutputWriteTiles uint

	ISIStrategy ISIStrategy
}

// InputChannels is the channel count of the activation tensor.
func (w *DPUWorkload) InputChannels() uint {
	return w.Inputs[0].Channels()
}

// OutputChannels is the channel count of the output tensor.
func (w *DPUWorkload) OutputChannels() uint {
	return w.Outputs[0].Channels()
}

// DMAWorkload describes one memory transfer for the DMA engine.
type DMAWorkload struct {
	Device         Device
	Input          VPUTensor
	Output         VPUTensor
	InputLocation  MemoryLocation
	OutputLocation MemoryLocation

	// OutputWriteTiles is the CMX broadcast count; it multiplies the
	// bytes moved only when the destination is CMX.
	OutputWriteTiles uint
}

// SWOperation is a legacy software-kernel descriptor carrying its own
// cost parameters: a throughput in bytes per cycle and a fixed startup
// latency in cycles.
type SWOperation struct {
	Device  Device
	Inputs  []VPUTensor
	Outputs []VPUTensor

	KernelEfficiency float32 // bytes per cycle
	Latency          uint32  // cycles
}

// Cycles evaluates the kernel cost formula:
// ceil(output bytes / efficiency) + latency.
func (s *SWOperation) Cycles() uint32 {
	if len(s.Outputs) == 0 || s.KernelEfficiency <= 0 {
		return s.Latency
	}
	size := float64(s.Outputs[0].Size())
	return uint32(math.Ceil(size/float64(s.KernelEfficiency))) + s.Latency
}

// SHAVEWorkload names a SHAVE software kernel together with its tensor
// arguments. The kernel cost parameters are resolved against the
// per-device catalog, not carried on the workload.
type SHAVEWorkload struct {
	Name    string
	Device  Device
	Inputs  []VPUTensor
	Outputs []VPUTensor
}
