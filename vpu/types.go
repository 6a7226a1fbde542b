package vpu

// Enumerations describing the device family and the workload vocabulary.
// These drive every table lookup in the package (valid-value sets, MAC
// throughput, CMX capacity, power factors), so their ordinal values are
// also part of the NN descriptor contract: one-hot positions in the
// preprocessors follow declaration order here.

// Device identifies a hardware generation.
type Device int

const (
	DeviceV20 Device = iota
	DeviceV21
	DeviceV27
	DeviceV40
	DeviceUnknown
)

var deviceNames = map[Device]string{
	DeviceV20:     "V20",
	DeviceV21:     "V21",
	DeviceV27:     "V27",
	DeviceV40:     "V40",
	DeviceUnknown: "Unknown",
}

func (d Device) String() string {
	if s, ok := deviceNames[d]; ok {
		return s
	}
	return "Unknown"
}

// ParseDevice maps a device name ("V20".."V40") to its Device value.
func ParseDevice(name string) (Device, bool) {
	for d, s := range deviceNames {
		if s == name && d != DeviceUnknown {
			return d, true
		}
	}
	return DeviceUnknown, false
}

// Operation is the DPU operation type of a workload.
type Operation int

const (
	OpConvolution Operation = iota
	OpCMConvolution
	OpDWConvolution
	OpAvePool
	OpMaxPool
	OpEltwise
	OpInvalid
)

var operationNames = map[Operation]string{
	OpConvolution:   "CONVOLUTION",
	OpCMConvolution: "CM_CONVOLUTION",
	OpDWConvolution: "DW_CONVOLUTION",
	OpAvePool:       "AVEPOOL",
	OpMaxPool:       "MAXPOOL",
	OpEltwise:       "ELTWISE",
	OpInvalid:       "INVALID",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "INVALID"
}

// ParseOperation maps an operation name to its Operation value.
func ParseOperation(name string) (Operation, bool) {
	for o, s := range operationNames {
		if s == name && o != OpInvalid {
			return o, true
		}
	}
	return OpInvalid, false
}

// IsChannelPreserving reports whether the operation carries its input
// channel count through to the output unchanged. The sanitizer aligns
// input channels to output channels for these operations.
func (o Operation) IsChannelPreserving() bool {
	switch o {
	case OpEltwise, OpDWConvolution, OpMaxPool, OpAvePool:
		return true
	}
	return false
}

// DataType is the element type of a tensor.
type DataType int

const (
	TypeUInt8 DataType = iota
	TypeInt8
	TypeFloat16
	TypeBFloat16
)

var dataTypeNames = map[DataType]string{
	TypeUInt8:    "UINT8",
	TypeInt8:     "INT8",
	TypeFloat16:  "FLOAT16",
	TypeBFloat16: "BFLOAT16",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return "UINT8"
}

// ParseDataType maps a datatype name to its DataType value.
func ParseDataType(name string) (DataType, bool) {
	for t, s := range dataTypeNames {
		if s == name {
			return t, true
		}
	}
	return TypeUInt8, false
}

// Bytes returns the storage size of one element.
func (t DataType) Bytes() uint {
	switch t {
	case TypeFloat16, TypeBFloat16:
		return 2
	default:
		return 1
	}
}

// IsFloat reports whether the type carries floating-point values.
// This selects the floating-point power-virus reference when scaling
// power factors.
func (t DataType) IsFloat() bool {
	return t == TypeFloat16 || t == TypeBFloat16
}

// MemoryLocation identifies where a tensor lives for DMA estimation.
type MemoryLocation int

const (
	LocationDRAM MemoryLocation = iota
	LocationCMX
	LocationUPA
	LocationCSRAM
)

var memoryLocationNames = map[MemoryLocation]string{
	LocationDRAM:  "DRAM",
	LocationCMX:   "CMX",
	LocationUPA:   "UPA",
	LocationCSRAM: "CSRAM",
}

func (m MemoryLocation) String() string {
	if s, ok := memoryLocationNames[m]; ok {
		return s
	}
	return "DRAM"
}

// ExecutionMode is the MPE grid configuration the DPU runs the workload
// with. Vector/Matrix/VectorFP16 exist on V20/V21; the Cuboid modes on
// V27 and later.
type ExecutionMode int

const (
	ModeVector ExecutionMode = iota
	ModeMatrix
	ModeVectorFP16
	ModeCuboid4x16
	ModeCuboid8x16
	ModeCuboid16x16
)

var executionModeNames = map[ExecutionMode]string{
	ModeVector:      "VECTOR",
	ModeMatrix:      "MATRIX",
	ModeVectorFP16:  "VECTOR_FP16",
	ModeCuboid4x16:  "CUBOID_4x16",
	ModeCuboid8x16:  "CUBOID_8x16",
	ModeCuboid16x16: "CUBOID_16x16",
}

func (e ExecutionMode) String() string {
	if s, ok := executionModeNames[e]; ok {
		return s
	}
	return "VECTOR"
}

// ParseExecutionMode maps an execution mode name to its value.
func ParseExecutionMode(name string) (ExecutionMode, bool) {
	for e, s := range executionModeNames {
		if s == name {
			return e, true
		}
	}
	return ModeVector, false
}

// Layout is the in-memory dimension order of a tensor.
type Layout int

const (
	LayoutZXY Layout = iota
	LayoutXZY
	LayoutYXZ
	LayoutYZX
	LayoutZYX
	LayoutXYZ
)

// ISIStrategy is the inter-slice interaction strategy of a workload.
type ISIStrategy int

const (
	ISIClustering ISIStrategy = iota
	ISISplitOverH
	ISISplitOverK
)

var isiStrategyNames = map[ISIStrategy]string{
	ISIClustering: "CLUSTERING",
	ISISplitOverH: "SPLIT_OVER_H",
	ISISplitOverK: "SPLIT_OVER_K",
}

func (s ISIStrategy) String() string {
	if n, ok := isiStrategyNames[s]; ok {
		return n
	}
	return "CLUSTERING"
}

// Swizzling is the CMX swizzling key attached to a tensor (0..5).
type Swizzling uint8

// Subsystem identifies a power domain of the device.
type Subsystem int

const (
	SubsystemDPU Subsystem = iota
	SubsystemSHV
	SubsystemDMA
	SubsystemCPU
	SubsystemCMX
)

var subsystemNames = map[Subsystem]string{
	SubsystemDPU: "DPU",
	SubsystemSHV: "SHV",
	SubsystemDMA: "DMA",
	SubsystemCPU: "CPU",
	SubsystemCMX: "CMX",
}

func (s Subsystem) String() string {
	if n, ok := subsystemNames[s]; ok {
		return n
	}
	return "DPU"
}
