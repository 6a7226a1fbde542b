package vpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shaveWorkload(device Device, name string) SHAVEWorkload {
	tensor := NewVPUTensor(16, 16, 4, 1, TypeFloat16)
	return SHAVEWorkload{
		Name:    name,
		Device:  device,
		Inputs:  []VPUTensor{tensor},
		Outputs: []VPUTensor{tensor},
	}
}

func TestShave_KnownKernelCycles(t *testing.T) {
	s := NewShaveConfiguration()
	swl := shaveWorkload(DeviceV27, "sigmoid")

	var info string
	cycles := s.ComputeCycles(&swl, &info)
	require.False(t, IsErrorCode(cycles), info)

	// ceil(2048 bytes / 4.4 B/cycle) + 1430
	assert.Equal(t, CyclesInterfaceType(466+1430), cycles)
	assert.Empty(t, info)
}

func TestShave_V40RunsFasterThanV27(t *testing.T) {
	s := NewShaveConfiguration()

	w27 := shaveWorkload(DeviceV27, "softmax")
	w40 := shaveWorkload(DeviceV40, "softmax")

	var info string
	v27 := s.ComputeCycles(&w27, &info)
	v40 := s.ComputeCycles(&w40, &info)
	assert.Less(t, uint32(v40), uint32(v27))
}

func TestShave_UnknownKernelIsConfigurationError(t *testing.T) {
	s := NewShaveConfiguration()
	swl := shaveWorkload(DeviceV27, "frobnicate")

	var info string
	cycles := s.ComputeCycles(&swl, &info)
	assert.Equal(t, ErrorInvalidInputConfiguration, cycles)
	assert.Contains(t, info, "frobnicate")
}

// TestShave_EmptyCatalogDevice: generations without modeled SHAVE
// kernels report a configuration error.
func TestShave_EmptyCatalogDevice(t *testing.T) {
	s := NewShaveConfiguration()
	swl := shaveWorkload(DeviceV20, "sigmoid")

	var info string
	cycles := s.ComputeCycles(&swl, &info)
	assert.Equal(t, ErrorInvalidInputConfiguration, cycles)
	assert.Contains(t, info, "V20")
}

func TestShave_MissingTensorsRejected(t *testing.T) {
	s := NewShaveConfiguration()
	swl := shaveWorkload(DeviceV27, "relu")
	swl.Outputs = nil

	var info string
	assert.Equal(t, ErrorInvalidInputConfiguration, s.ComputeCycles(&swl, &info))
}

func TestShave_SupportedOperationsSorted(t *testing.T) {
	s := NewShaveConfiguration()

	names := s.SupportedOperations(DeviceV27)
	require.NotEmpty(t, names)
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "sigmoid")
	assert.Contains(t, names, "softmax")

	assert.Empty(t, s.SupportedOperations(DeviceV20))
}

func TestCostModel_Shave2AndLegacyShave(t *testing.T) {
	m := newAnalyticCostModel()

	cycles, info := m.SHAVE2(shaveWorkload(DeviceV27, "relu"))
	assert.False(t, IsErrorCode(cycles))
	assert.Empty(t, info)

	cycles, info = m.SHAVE2(shaveWorkload(DeviceV27, "unknown-kernel"))
	assert.Equal(t, ErrorInvalidInputConfiguration, cycles)
	assert.NotEmpty(t, info)

	// The legacy path evaluates whatever parameters the caller carries.
	swl := SWOperation{
		Device:           DeviceV27,
		Inputs:           []VPUTensor{NewVPUTensor(16, 16, 4, 1, TypeFloat16)},
		Outputs:          []VPUTensor{NewVPUTensor(16, 16, 4, 1, TypeFloat16)},
		KernelEfficiency: 2.0,
		Latency:          100,
	}
	assert.Equal(t, uint32(1024+100), m.SHAVE(&swl))

	// SHAVE energy: 0.5 activity at 5% of DPU max power.
	assert.InDelta(t, 0.5*0.05*float64(1024+100), m.SHAVEEnergy(&swl), 1e-6)
}
