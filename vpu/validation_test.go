package vpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sanitize(t *testing.T, wl *DPUWorkload) SanityReport {
	t.Helper()
	var report SanityReport
	NewDPUSanitizer(quietLogger()).CheckAndSanitize(wl, &report)
	return report
}

// TestSanitize_AvgPoolBecomesDWConv is spec scenario 3: V27 average
// pool 14x14x256, 7x7 kernel, no padding.
func TestSanitize_AvgPoolBecomesDWConv(t *testing.T) {
	wl := DPUWorkload{
		Device:           DeviceV27,
		Op:               OpAvePool,
		Inputs:           [1]VPUTensor{NewVPUTensor(14, 14, 256, 1, TypeUInt8)},
		Outputs:          [1]VPUTensor{NewVPUTensor(8, 8, 256, 1, TypeUInt8)},
		Kernels:          [2]uint{7, 7},
		Strides:          [2]uint{1, 1},
		ExecutionMode:    ModeCuboid16x16,
		OutputWriteTiles: 1,
	}

	report := sanitize(t, &wl)
	require.True(t, report.IsUsable(), report.Info)
	assert.Equal(t, OpDWConvolution, wl.Op)
}

// TestSanitize_SmallICConvBecomesCompressed is spec scenario 2: a V27
// convolution with 8 input channels runs as compressed convolution.
func TestSanitize_SmallICConvBecomesCompressed(t *testing.T) {
	wl := convV27Workload()
	wl.Inputs[0].Shape[2] = 8

	report := sanitize(t, &wl)
	require.True(t, report.IsUsable(), report.Info)
	assert.Equal(t, OpCMConvolution, wl.Op)
}

func TestSanitize_SmallICConvKeptOnV20(t *testing.T) {
	wl := convV20Workload()
	wl.Inputs[0].Shape[2] = 8

	report := sanitize(t, &wl)
	require.True(t, report.IsUsable(), report.Info)
	assert.Equal(t, OpConvolution, wl.Op)
}

// TestSanitize_SingleChannelConvRejectedOnV27 pins the decision for the
// undefined ic==1 boundary of the compressed rewrite.
func TestSanitize_SingleChannelConvRejectedOnV27(t *testing.T) {
	wl := convV27Workload()
	wl.Inputs[0].Shape[2] = 1

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)
}

func TestSanitize_ChannelPreservingAlignsInputChannels(t *testing.T) {
	wl := DPUWorkload{
		Device:           DeviceV27,
		Op:               OpMaxPool,
		Inputs:           [1]VPUTensor{NewVPUTensor(16, 16, 32, 1, TypeUInt8)},
		Outputs:          [1]VPUTensor{NewVPUTensor(14, 14, 64, 1, TypeUInt8)},
		Kernels:          [2]uint{3, 3},
		Strides:          [2]uint{1, 1},
		ExecutionMode:    ModeCuboid16x16,
		OutputWriteTiles: 1,
	}

	report := sanitize(t, &wl)
	require.True(t, report.IsUsable(), report.Info)
	assert.Equal(t, uint(64), wl.InputChannels())
	assert.Equal(t, wl.OutputChannels(), wl.InputChannels())
}

func TestSanitize_UnsupportedDevice(t *testing.T) {
	wl := convV27Workload()
	wl.Device = DeviceUnknown

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)
}

// TestSanitize_InvalidOperation is spec scenario 5.
func TestSanitize_InvalidOperation(t *testing.T) {
	wl := convV27Workload()
	wl.Op = OpInvalid

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputOperation, report.Value)
}

func TestSanitize_OperationNotOnDevice(t *testing.T) {
	wl := convV20Workload()
	wl.Op = OpCMConvolution // V27+ only

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputOperation, report.Value)
}

// TestSanitize_EltwiseTooLargeForCMX is spec scenario 4: a 1600x1600x64
// element-wise workload cannot be resident.
func TestSanitize_EltwiseTooLargeForCMX(t *testing.T) {
	big := NewVPUTensor(1600, 1600, 64, 1, TypeUInt8)
	wl := DPUWorkload{
		Device:           DeviceV27,
		Op:               OpEltwise,
		Inputs:           [1]VPUTensor{big},
		Outputs:          [1]VPUTensor{big},
		Kernels:          [2]uint{1, 1},
		Strides:          [2]uint{1, 1},
		ExecutionMode:    ModeCuboid16x16,
		OutputWriteTiles: 1,
	}

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInputTooBig, report.Value)
}

// TestSanitize_CMXBoundary drives an element-wise footprint just under
// and just over the V20 scratchpad capacity. The footprint is three
// aligned copies of the tensor (both operands plus the output).
func TestSanitize_CMXBoundary(t *testing.T) {
	eltwise := func(bytes uint) DPUWorkload {
		tensor := NewVPUTensor(bytes, 1, 1, 1, TypeUInt8)
		return DPUWorkload{
			Device:           DeviceV20,
			Op:               OpEltwise,
			Inputs:           [1]VPUTensor{tensor},
			Outputs:          [1]VPUTensor{tensor},
			Kernels:          [2]uint{1, 1},
			Strides:          [2]uint{1, 1},
			ExecutionMode:    ModeVector,
			OutputWriteTiles: 1,
		}
	}

	// 3 * 349184 = 1047552 <= 1 MiB: fits.
	fits := eltwise(349184)
	report := sanitize(t, &fits)
	assert.True(t, report.IsUsable(), report.Info)

	// 3 * 349536 = 1048608 > 1 MiB: rejected.
	over := eltwise(349536)
	report = sanitize(t, &over)
	assert.Equal(t, ErrorInputTooBig, report.Value)
}

func TestSanitize_OutputDimsMustFollowFloorFormula(t *testing.T) {
	wl := convV27Workload()
	wl.Outputs[0].Shape[0] = 27 // expected 28 for k=3 s=1 pad=1

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)
}

func TestSanitize_PaddingMustStayBelowKernel(t *testing.T) {
	wl := convV27Workload()
	wl.Padding = [4]uint{3, 3, 3, 3} // kernel is 3x3

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)
}

func TestSanitize_EltwiseNeedsUnitKernel(t *testing.T) {
	tensor := NewVPUTensor(16, 16, 32, 1, TypeUInt8)
	wl := DPUWorkload{
		Device:           DeviceV27,
		Op:               OpEltwise,
		Inputs:           [1]VPUTensor{tensor},
		Outputs:          [1]VPUTensor{tensor},
		Kernels:          [2]uint{3, 3},
		Strides:          [2]uint{1, 1},
		ExecutionMode:    ModeCuboid16x16,
		OutputWriteTiles: 1,
	}

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)
}

func TestSanitize_WeightSparsityRules(t *testing.T) {
	// Density outside [0,1] is rejected.
	wl := convV27Workload()
	wl.WeightSparsityEnabled = true
	wl.WeightSparsity = 1.5
	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)

	// Integer weight sparsity is not available on V20.
	wl = convV20Workload()
	wl.WeightSparsityEnabled = true
	wl.WeightSparsity = 0.5
	report = sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)

	// The same request on V27 passes.
	wl = convV27Workload()
	wl.WeightSparsityEnabled = true
	wl.WeightSparsity = 0.5
	report = sanitize(t, &wl)
	assert.True(t, report.IsUsable(), report.Info)
}

func TestSanitize_ExecutionModePerDevice(t *testing.T) {
	wl := convV27Workload()
	wl.ExecutionMode = ModeVector // V20/V21 mode

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)
}

// TestSanitize_MixedFloatsCanonicalized is spec scenario 6: BFLOAT16 in
// with FLOAT16 out sanitizes to FLOAT16 on both sides.
func TestSanitize_MixedFloatsCanonicalized(t *testing.T) {
	wl := convV27Workload()
	wl.Inputs[0].Dtype = TypeBFloat16
	wl.Outputs[0].Dtype = TypeFloat16
	wl.ExecutionMode = ModeCuboid16x16

	report := sanitize(t, &wl)
	require.True(t, report.IsUsable(), report.Info)
	assert.Equal(t, TypeFloat16, wl.Inputs[0].Dtype)
	assert.Equal(t, TypeFloat16, wl.Outputs[0].Dtype)
}

func TestSanitize_Int8RewrittenToUInt8(t *testing.T) {
	wl := convV27Workload()
	wl.Inputs[0].Dtype = TypeInt8
	wl.Outputs[0].Dtype = TypeInt8

	report := sanitize(t, &wl)
	require.True(t, report.IsUsable(), report.Info)
	assert.Equal(t, TypeUInt8, wl.Inputs[0].Dtype)
	assert.Equal(t, TypeUInt8, wl.Outputs[0].Dtype)
}

func TestSanitize_PoolDropsWeightSparsity(t *testing.T) {
	wl := DPUWorkload{
		Device:           DeviceV27,
		Op:               OpMaxPool,
		Inputs:           [1]VPUTensor{NewVPUTensor(16, 16, 64, 1, TypeUInt8)},
		Outputs:          [1]VPUTensor{NewVPUTensor(14, 14, 64, 1, TypeUInt8)},
		Kernels:          [2]uint{3, 3},
		Strides:          [2]uint{1, 1},
		ExecutionMode:    ModeCuboid16x16,
		OutputWriteTiles: 1,
	}
	wl.WeightSparsityEnabled = true
	wl.WeightSparsity = 0.9

	report := sanitize(t, &wl)
	require.True(t, report.IsUsable(), report.Info)
	assert.False(t, wl.WeightSparsityEnabled)
	assert.Zero(t, wl.WeightSparsity)
}

func TestSanitize_EltwiseRejectsWeightSparsity(t *testing.T) {
	tensor := NewVPUTensor(16, 16, 32, 1, TypeUInt8)
	wl := DPUWorkload{
		Device:           DeviceV27,
		Op:               OpEltwise,
		Inputs:           [1]VPUTensor{tensor},
		Outputs:          [1]VPUTensor{tensor},
		Kernels:          [2]uint{1, 1},
		Strides:          [2]uint{1, 1},
		ExecutionMode:    ModeCuboid16x16,
		OutputWriteTiles: 1,
	}
	wl.WeightSparsityEnabled = true

	report := sanitize(t, &wl)
	assert.Equal(t, ErrorInvalidInputConfiguration, report.Value)
}

func TestOperationBehaviour_WeightVolumes(t *testing.T) {
	wl := convV27Workload() // k 3x3, ic 32, oc 64

	assert.Equal(t, uint64(3*3*32*64), operationsBehaviour[OpConvolution].Input1Volume(&wl))

	dw := wl
	dw.Op = OpDWConvolution
	assert.Equal(t, uint64(3*3*64), operationsBehaviour[OpDWConvolution].Input1Volume(&dw))

	assert.Zero(t, operationsBehaviour[OpMaxPool].Input1Volume(&wl))
}

func TestOperationBehaviour_EltwiseFilters(t *testing.T) {
	b := operationsBehaviour[OpEltwise]

	strategies := b.FilterISIStrategies([]ISIStrategy{ISIClustering, ISISplitOverH, ISISplitOverK})
	assert.Equal(t, []ISIStrategy{ISIClustering, ISISplitOverH}, strategies)

	tiles := b.FilterOutputWriteTiles([]uint{1, 2, 4})
	assert.Equal(t, []uint{1}, tiles)
}
