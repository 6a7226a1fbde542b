package vpu

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Shared fixtures: stub predictors standing in for the external tensor
// engine, canonical workloads from the spec scenarios, and a seeded
// generator producing valid random workloads.

// stubPredictor evaluates a fixed function over each descriptor in the
// input buffer. width is the descriptor size the stub was built for.
type stubPredictor struct {
	width int
	fn    func(descriptor []float32) float32
}

func (s *stubPredictor) Predict(descriptors []float32) ([]float32, error) {
	n := len(descriptors) / s.width
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = s.fn(descriptors[i*s.width : (i+1)*s.width])
	}
	return out, nil
}

// constantPredictor always answers value.
func constantPredictor(width int, value float32) *stubPredictor {
	return &stubPredictor{width: width, fn: func([]float32) float32 { return value }}
}

// sumPredictor answers a descriptor-dependent value so distinct
// workloads get distinct predictions.
func sumPredictor(width int) *stubPredictor {
	return &stubPredictor{width: width, fn: func(d []float32) float32 {
		var sum float32
		for _, v := range d {
			sum += v
		}
		return sum + 1000
	}}
}

// errorPredictor fails every inference.
type errorPredictor struct{}

func (errorPredictor) Predict([]float32) ([]float32, error) {
	return nil, fmt.Errorf("engine unavailable")
}

// quietLogger keeps sanitizer warnings out of test output.
func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// newTestCostModel wires a cost model over a stub predictor speaking
// interface version 11.
func newTestCostModel(p Predictor, batchSize int) (*VPUCostModel, error) {
	runtime := NewRuntimeFromPredictor(p, ParseModelVersion("vpucost-test-11-1"), batchSize, interface11Size)
	return NewCostModelFromRuntime(runtime, CostModelConfig{Logger: quietLogger()})
}

// newAnalyticCostModel has no predictor: every estimate is theoretical.
func newAnalyticCostModel() *VPUCostModel {
	m, err := NewCostModel(CostModelConfig{Logger: quietLogger()})
	if err != nil {
		panic(err)
	}
	return m
}

// convV20Workload is spec scenario 1: V20 convolution 56x56x16 to
// 56x56x16, 3x3 kernel, stride 1, pad 1, Vector mode, UINT8.
func convV20Workload() DPUWorkload {
	return DPUWorkload{
		Device:           DeviceV20,
		Op:               OpConvolution,
		Inputs:           [1]VPUTensor{NewVPUTensor(56, 56, 16, 1, TypeUInt8)},
		Outputs:          [1]VPUTensor{NewVPUTensor(56, 56, 16, 1, TypeUInt8)},
		Kernels:          [2]uint{3, 3},
		Strides:          [2]uint{1, 1},
		Padding:          [4]uint{1, 1, 1, 1},
		ExecutionMode:    ModeVector,
		OutputWriteTiles: 1,
	}
}

// convV27Workload is a well-formed V27 convolution with 16+ input
// channels (no compressed rewrite).
func convV27Workload() DPUWorkload {
	return DPUWorkload{
		Device:           DeviceV27,
		Op:               OpConvolution,
		Inputs:           [1]VPUTensor{NewVPUTensor(28, 28, 32, 1, TypeUInt8)},
		Outputs:          [1]VPUTensor{NewVPUTensor(28, 28, 64, 1, TypeUInt8)},
		Kernels:          [2]uint{3, 3},
		Strides:          [2]uint{1, 1},
		Padding:          [4]uint{1, 1, 1, 1},
		ExecutionMode:    ModeCuboid16x16,
		OutputWriteTiles: 1,
	}
}

// randomConvWorkload draws a valid V27 convolution from rng. Shapes are
// kept small enough to always fit CMX.
func randomConvWorkload(rng *rand.Rand) DPUWorkload {
	channels := []uint{16, 32, 64}
	spatial := []uint{7, 14, 28}
	kernels := []uint{1, 3}
	ic := channels[rng.Intn(len(channels))]
	oc := channels[rng.Intn(len(channels))]
	xy := spatial[rng.Intn(len(spatial))]
	k := kernels[rng.Intn(len(kernels))]
	pad := k / 2
	out := (xy+2*pad-k)/1 + 1

	return DPUWorkload{
		Device:           DeviceV27,
		Op:               OpConvolution,
		Inputs:           [1]VPUTensor{NewVPUTensor(xy, xy, ic, 1, TypeUInt8)},
		Outputs:          [1]VPUTensor{NewVPUTensor(out, out, oc, 1, TypeUInt8)},
		Kernels:          [2]uint{k, k},
		Strides:          [2]uint{1, 1},
		Padding:          [4]uint{pad, pad, pad, pad},
		ExecutionMode:    ModeCuboid16x16,
		OutputWriteTiles: 1,
	}
}
