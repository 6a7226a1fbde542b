package vpu

import "math"

// Analytic estimators: MAC-bound DPU lower bounds, DMA transfer cycles
// and the legacy SHAVE kernel formula. All tables in this file are
// calibration data for the modeled hardware generations.

// macUnits is the number of multiply-accumulate units active per
// (device, execution mode) pair.
var macUnits = map[Device]map[ExecutionMode]uint64{
	DeviceV20: {
		ModeVector:     256,
		ModeMatrix:     256,
		ModeVectorFP16: 128,
	},
	DeviceV21: {
		ModeVector:     256,
		ModeMatrix:     256,
		ModeVectorFP16: 128,
	},
	DeviceV27: {
		ModeCuboid4x16:  2048,
		ModeCuboid8x16:  2048,
		ModeCuboid16x16: 2048,
	},
	DeviceV40: {
		ModeCuboid4x16:  2048,
		ModeCuboid8x16:  2048,
		ModeCuboid16x16: 2048,
	},
}

// MACUnits returns the MAC throughput per cycle for a device and mode,
// or 0 when the combination is not modeled.
func MACUnits(device Device, mode ExecutionMode) uint64 {
	if modes, ok := macUnits[device]; ok {
		return modes[mode]
	}
	return 0
}

// cmxBytes is the per-tile scratchpad capacity.
var cmxBytes = map[Device]uint64{
	DeviceV20: 1 << 20,     // 1 MiB
	DeviceV21: 1 << 20,     // 1 MiB
	DeviceV27: 2 << 20,     // 2 MiB
	DeviceV40: 1536 * 1024, // 1.5 MiB
}

// CMXSize returns the scratchpad capacity in bytes for a device.
func CMXSize(device Device) uint64 {
	return cmxBytes[device]
}

// dmaPortBandwidth is the sustained port throughput in bytes per DPU
// cycle for each memory, per device. A transfer runs at the slower of
// its two endpoints.
var dmaPortBandwidth = map[Device]map[MemoryLocation]float64{
	DeviceV20: {LocationDRAM: 16, LocationCMX: 32, LocationCSRAM: 24, LocationUPA: 16},
	DeviceV21: {LocationDRAM: 16, LocationCMX: 32, LocationCSRAM: 24, LocationUPA: 16},
	DeviceV27: {LocationDRAM: 27, LocationCMX: 32, LocationCSRAM: 27, LocationUPA: 27},
	DeviceV40: {LocationDRAM: 32, LocationCMX: 64, LocationCSRAM: 32, LocationUPA: 32},
}

// dmaPortLatency is the fixed setup cost in cycles for touching each
// memory. A transfer pays the larger of its two endpoint latencies.
var dmaPortLatency = map[MemoryLocation]uint64{
	LocationDRAM:  100,
	LocationCMX:   16,
	LocationCSRAM: 64,
	LocationUPA:   64,
}

// DenseMACOperations is the mathematical MAC count of a workload, with
// no sparsity benefit. Pool comparisons are counted as MACs.
func DenseMACOperations(wl *DPUWorkload) uint64 {
	out := &wl.Outputs[0]
	spatial := uint64(out.X()) * uint64(out.Y()) * uint64(out.Batch())
	oc := uint64(out.Channels())
	kernel := uint64(wl.Kernels[0]) * uint64(wl.Kernels[1])

	switch wl.Op {
	case OpConvolution, OpCMConvolution:
		ic := uint64(wl.InputChannels())
		return spatial * oc * ic * kernel
	case OpDWConvolution, OpMaxPool, OpAvePool:
		return spatial * oc * kernel
	case OpEltwise:
		return spatial * oc
	}
	return 0
}

// SparseMACOperations is the MAC count after the hardware skips zeroed
// weights and activations. Each enabled sparsity dimension scales the
// dense count by (1 - density).
func SparseMACOperations(wl *DPUWorkload) uint64 {
	macs := float64(DenseMACOperations(wl))
	if wl.WeightSparsityEnabled {
		macs *= 1.0 - wl.WeightSparsity
	}
	if wl.Inputs[0].Sparsity {
		macs *= 1.0 - wl.ActSparsity
	}
	if macs < 0 {
		macs = 0
	}
	return uint64(math.Ceil(macs))
}

// DPUTheoreticalCycles is the MAC-bound lower bound for an ideal
// dispatch of the workload: dense MACs over the device MAC throughput.
func DPUTheoreticalCycles(wl *DPUWorkload) CyclesInterfaceType {
	return cyclesFromMACs(DenseMACOperations(wl), wl)
}

// DPUPowerIdealCycles is the sparsity-aware ideal cycle count used by
// the power model: the hardware really executes only the surviving MACs.
func DPUPowerIdealCycles(wl *DPUWorkload) uint64 {
	return uint64(cyclesFromMACs(SparseMACOperations(wl), wl))
}

// DPUEfficiencyIdealCycles is the dense ideal cycle count used by the
// efficiency model. Sparsity gives no credit here, so efficiency
// utilization can exceed one.
func DPUEfficiencyIdealCycles(wl *DPUWorkload) uint64 {
	return uint64(cyclesFromMACs(DenseMACOperations(wl), wl))
}

func cyclesFromMACs(macs uint64, wl *DPUWorkload) CyclesInterfaceType {
	units := MACUnits(wl.Device, wl.ExecutionMode)
	if units == 0 {
		return 0
	}
	cycles := math.Ceil(float64(macs) / float64(units))
	if cycles >= float64(errorBandStart) {
		return errorBandStart - 1
	}
	return CyclesInterfaceType(cycles)
}

// DMATheoreticalCycles estimates one DMA transfer: bytes moved over the
// slower endpoint bandwidth, plus the larger endpoint setup latency.
// Broadcast to multiple CMX tiles multiplies the bytes moved.
func DMATheoreticalCycles(wl *DMAWorkload) uint32 {
	ports, ok := dmaPortBandwidth[wl.Device]
	if !ok {
		return 0
	}
	srcBW := ports[wl.InputLocation]
	dstBW := ports[wl.OutputLocation]
	if srcBW == 0 || dstBW == 0 {
		return 0
	}
	bw := math.Min(srcBW, dstBW)

	bytes := float64(wl.Input.Size())
	if wl.OutputLocation == LocationCMX && wl.OutputWriteTiles > 1 {
		bytes *= float64(wl.OutputWriteTiles)
	}

	latency := dmaPortLatency[wl.InputLocation]
	if l := dmaPortLatency[wl.OutputLocation]; l > latency {
		latency = l
	}
	return uint32(math.Ceil(bytes/bw)) + uint32(latency)
}

// SHAVETheoreticalCycles evaluates the cost formula carried by a legacy
// software-kernel descriptor.
func SHAVETheoreticalCycles(swl *SWOperation) uint32 {
	return swl.Cycles()
}
