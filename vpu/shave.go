package vpu

import (
	"fmt"
	"math"
	"sort"
)

// SHAVE software-kernel catalog. Each modeled kernel carries a linear
// cost: a sustained throughput in bytes per cycle plus a fixed startup
// latency. Catalogs exist per device generation; looking up a kernel on
// a generation without a catalog is a configuration error.

type shaveKernel struct {
	efficiency float64 // bytes per cycle
	latency    uint32  // cycles
}

// dpuCycles evaluates the kernel over an output tensor.
func (k shaveKernel) dpuCycles(output *VPUTensor) CyclesInterfaceType {
	if k.efficiency <= 0 {
		return CyclesInterfaceType(k.latency)
	}
	cycles := math.Ceil(float64(output.Size())/k.efficiency) + float64(k.latency)
	if cycles >= float64(errorBandStart) {
		return errorBandStart - 1
	}
	return CyclesInterfaceType(cycles)
}

// shaveCatalogV27 models the second SHAVE generation. Throughputs are
// calibrated against kernel microbenchmarks at the default DVFS point.
var shaveCatalogV27 = map[string]shaveKernel{
	"add":         {efficiency: 8.0, latency: 1340},
	"mult":        {efficiency: 8.0, latency: 1340},
	"minimum":     {efficiency: 8.0, latency: 1340},
	"maximum":     {efficiency: 8.0, latency: 1340},
	"relu":        {efficiency: 16.0, latency: 880},
	"elu":         {efficiency: 1.25, latency: 1950},
	"gelu":        {efficiency: 0.88, latency: 2010},
	"hswish":      {efficiency: 8.1, latency: 1210},
	"sigmoid":     {efficiency: 4.4, latency: 1430},
	"tanh":        {efficiency: 4.4, latency: 1430},
	"softmax":     {efficiency: 0.6, latency: 3100},
	"mvn":         {efficiency: 1.1, latency: 2870},
	"swish":       {efficiency: 2.3, latency: 1670},
	"hardsigmoid": {efficiency: 8.1, latency: 1210},
}

// shaveCatalogV40 carries the same kernel set at the wider V40 vector
// datapath.
var shaveCatalogV40 = func() map[string]shaveKernel {
	catalog := make(map[string]shaveKernel, len(shaveCatalogV27))
	for name, k := range shaveCatalogV27 {
		catalog[name] = shaveKernel{efficiency: k.efficiency * 2, latency: k.latency}
	}
	return catalog
}()

// ShaveConfiguration resolves SHAVE workloads against the per-device
// kernel catalogs.
type ShaveConfiguration struct {
	catalogs map[Device]map[string]shaveKernel
}

// NewShaveConfiguration builds the catalog set for the generations that
// have modeled SHAVE kernels.
func NewShaveConfiguration() *ShaveConfiguration {
	return &ShaveConfiguration{
		catalogs: map[Device]map[string]shaveKernel{
			DeviceV27: shaveCatalogV27,
			DeviceV40: shaveCatalogV40,
		},
	}
}

// ComputeCycles resolves and evaluates a SHAVE workload. Unknown
// devices or kernel names, or a workload without tensors, report
// ErrorInvalidInputConfiguration with the finding appended to info.
func (s *ShaveConfiguration) ComputeCycles(swl *SHAVEWorkload, info *string) CyclesInterfaceType {
	catalog, ok := s.catalogs[swl.Device]
	if !ok || len(catalog) == 0 {
		appendInfo(info, fmt.Sprintf("no SHAVE kernels modeled for device %s", swl.Device))
		return ErrorInvalidInputConfiguration
	}
	kernel, ok := catalog[swl.Name]
	if !ok {
		appendInfo(info, fmt.Sprintf("SHAVE kernel %q is not modeled for device %s", swl.Name, swl.Device))
		return ErrorInvalidInputConfiguration
	}
	if len(swl.Inputs) == 0 || len(swl.Outputs) == 0 {
		appendInfo(info, fmt.Sprintf("SHAVE kernel %q needs at least one input and one output", swl.Name))
		return ErrorInvalidInputConfiguration
	}
	return kernel.dpuCycles(&swl.Outputs[0])
}

// SupportedOperations lists the kernel names modeled for a device,
// sorted for stable output.
func (s *ShaveConfiguration) SupportedOperations(device Device) []string {
	catalog := s.catalogs[device]
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func appendInfo(info *string, finding string) {
	if info == nil {
		return
	}
	if *info != "" {
		*info += "; "
	}
	*info += finding
}
