package vpu

import "fmt"

// VPUTensor describes one tensor of a workload: a WHCB shape, an element
// type, a layout and the activation-sparsity state. Tensors are plain
// values; the sanitizer may rewrite the channel dimension of a workload's
// input tensor in place.
type VPUTensor struct {
	Shape    [4]uint // x (width), y (height), channels, batch
	Dtype    DataType
	Layout   Layout
	Sparsity bool // sparsity map present for this tensor
}

// NewVPUTensor builds a dense tensor with the default layout.
func NewVPUTensor(x, y, channels, batch uint, dtype DataType) VPUTensor {
	return VPUTensor{Shape: [4]uint{x, y, channels, batch}, Dtype: dtype}
}

// NewSparseVPUTensor builds a tensor flagged as having a sparsity map.
func NewSparseVPUTensor(x, y, channels, batch uint, dtype DataType) VPUTensor {
	t := NewVPUTensor(x, y, channels, batch, dtype)
	t.Sparsity = true
	return t
}

func (t VPUTensor) X() uint        { return t.Shape[0] }
func (t VPUTensor) Y() uint        { return t.Shape[1] }
func (t VPUTensor) Channels() uint { return t.Shape[2] }
func (t VPUTensor) Batch() uint    { return t.Shape[3] }

// Volume returns the number of elements.
func (t VPUTensor) Volume() uint64 {
	return uint64(t.Shape[0]) * uint64(t.Shape[1]) * uint64(t.Shape[2]) * uint64(t.Shape[3])
}

// Size returns the dense storage size in bytes.
func (t VPUTensor) Size() uint64 {
	return t.Volume() * uint64(t.Dtype.Bytes())
}

func (t VPUTensor) String() string {
	return fmt.Sprintf("[%dx%dx%dx%d %s]", t.X(), t.Y(), t.Channels(), t.Batch(), t.Dtype)
}
