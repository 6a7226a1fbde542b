package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vpucost/vpucost/vpu"
)

var (
	// CLI flags for the estimation request
	modelPath string // Serialized predictor path ("" = analytic fallback)
	mode      string // DPU or DMA
	target    string // cycles, power or utilization
	logLevel  string // Log verbosity level

	deviceName    string // Device generation (V20, V21, V27, V40)
	operationName string // DPU operation
	mpeMode       string // MPE grid on V20/V21 (4x4, 16x1, 4x1)
	nthwNTK       string // NTHW/NTK mode on V27/V40 (4x16, 8x8, 16x4)

	width          int // Input tensor width
	height         int // Input tensor height
	inputChannels  int // Input tensor channels
	outputChannels int // Output tensor channels
	batch          int // Tensor batch
	kernel         int // Kernel size (square)
	padding        int // Padding (all sides)
	strides        int // Stride (both dims)

	inputDtype  string // Input datatype
	outputDtype string // Output datatype

	actSparsity          float64 // Activation sparsity rate
	paramSparsity        float64 // Weight sparsity rate
	paramSparsityEnabled bool    // Weight sparsity enabled
	outputWriteTiles     int     // CMX broadcast count
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "vpucost",
	Short: "Hardware cost model for neural-inference accelerators",
}

// deriveExecutionMode picks the execution mode the way the hardware
// compiler would: Cuboids from the NTHW/NTK mode on V27/V40, the
// FP16/matrix/vector grid on earlier generations.
func deriveExecutionMode(device vpu.Device, inDtype vpu.DataType) vpu.ExecutionMode {
	switch device {
	case vpu.DeviceV27, vpu.DeviceV40:
		switch nthwNTK {
		case "4x16":
			return vpu.ModeCuboid4x16
		case "8x8":
			return vpu.ModeCuboid8x16
		default:
			return vpu.ModeCuboid16x16
		}
	default:
		if inDtype.IsFloat() {
			return vpu.ModeVectorFP16
		}
		if mpeMode == "4x4" {
			return vpu.ModeMatrix
		}
		return vpu.ModeVector
	}
}

// outputDim applies the floor formula to one spatial dimension.
func outputDim(in, k, pad, stride int) int {
	return (in+2*pad-k)/stride + 1
}

// estimateCmd runs one estimation from CLI flags
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate cycles, power or utilization for one workload",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		device, ok := vpu.ParseDevice(deviceName)
		if !ok {
			logrus.Fatalf("Unknown device %q", deviceName)
		}
		inDt, ok := vpu.ParseDataType(inputDtype)
		if !ok {
			logrus.Fatalf("Unknown input datatype %q", inputDtype)
		}
		outDt, ok := vpu.ParseDataType(outputDtype)
		if !ok {
			logrus.Fatalf("Unknown output datatype %q", outputDtype)
		}

		switch mode {
		case "DPU":
			runDPU(device, inDt, outDt)
		case "DMA":
			runDMA(device, inDt, outDt)
		default:
			logrus.Fatalf("Unknown mode %q (want DPU or DMA)", mode)
		}
	},
}

func runDPU(device vpu.Device, inDt, outDt vpu.DataType) {
	operation, ok := vpu.ParseOperation(operationName)
	if !ok {
		logrus.Fatalf("Unknown operation %q", operationName)
	}

	outW := outputDim(width, kernel, padding, strides)
	outH := outputDim(height, kernel, padding, strides)
	if outW < 1 || outH < 1 {
		logrus.Fatalf("Kernel %d stride %d padding %d does not fit input %dx%d", kernel, strides, padding, width, height)
	}

	wl := vpu.DPUWorkload{
		Device:           device,
		Op:               operation,
		Inputs:           [1]vpu.VPUTensor{vpu.NewVPUTensor(uint(width), uint(height), uint(inputChannels), uint(batch), inDt)},
		Outputs:          [1]vpu.VPUTensor{vpu.NewVPUTensor(uint(outW), uint(outH), uint(outputChannels), uint(batch), outDt)},
		Kernels:          [2]uint{uint(kernel), uint(kernel)},
		Strides:          [2]uint{uint(strides), uint(strides)},
		Padding:          [4]uint{uint(padding), uint(padding), uint(padding), uint(padding)},
		ExecutionMode:    deriveExecutionMode(device, inDt),
		ActSparsity:      actSparsity,
		WeightSparsity:   paramSparsity,
		OutputWriteTiles: uint(outputWriteTiles),
	}
	wl.WeightSparsityEnabled = paramSparsityEnabled

	model, err := vpu.NewCostModel(vpu.CostModelConfig{ModelPath: modelPath})
	if err != nil {
		logrus.Fatalf("Cannot construct cost model: %v", err)
	}
	if !model.NNInitialized() {
		logrus.Warn("predictor not initialized, using analytic estimates")
	}

	switch target {
	case "cycles":
		info := model.DPUInfo(wl)
		fmt.Printf("DPU execution cycles: %d (%s)\n", info.DPUCycles, vpu.ErrorText(info.DPUCycles))
		if info.ErrInfo != "" {
			fmt.Printf("findings: %s\n", info.ErrInfo)
		}
		fmt.Printf("theoretical cycles: %d, energy: %.2f, activity factor: %.4f\n",
			info.HWTheoreticalCycles, info.Energy, info.PowerActivityFactor)
	case "power":
		fmt.Printf("DPU activity factor: %.4f\n", model.DPUPowerActivityFactor(wl))
	case "utilization":
		fmt.Printf("DPU hw utilization: %.4f\n", model.HWUtilization(wl))
	default:
		logrus.Fatalf("Unknown target %q (want cycles, power or utilization)", target)
	}
}

func runDMA(device vpu.Device, inDt, outDt vpu.DataType) {
	wl := vpu.DMAWorkload{
		Device:           device,
		Input:            vpu.NewVPUTensor(uint(width), uint(height), uint(inputChannels), uint(batch), inDt),
		Output:           vpu.NewVPUTensor(uint(width), uint(height), uint(outputChannels), uint(batch), outDt),
		InputLocation:    vpu.LocationDRAM,
		OutputLocation:   vpu.LocationCMX,
		OutputWriteTiles: uint(outputWriteTiles),
	}

	switch target {
	case "cycles":
		fmt.Printf("DMA execution cycles: %d\n", vpu.DMATheoreticalCycles(&wl))
	case "power":
		constants := vpu.DefaultHardwareConstants()
		dvfs := constants.DefaultDVFS(device)
		fmt.Printf("DMA power: %.4f mW at %.0f MHz\n", constants.DMAPower(&wl, dvfs), dvfs.Frequency)
	default:
		logrus.Fatalf("Unknown target %q for DMA (want cycles or power)", target)
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	estimateCmd.Flags().StringVarP(&modelPath, "model", "m", "", "Serialized predictor path")
	estimateCmd.Flags().StringVar(&mode, "mode", "DPU", "Profiling mode (DPU, DMA)")
	estimateCmd.Flags().StringVar(&target, "target", "cycles", "Target type (cycles, power, utilization)")
	estimateCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	estimateCmd.Flags().StringVarP(&deviceName, "device", "d", "V27", "Device generation (V20, V21, V27, V40)")
	estimateCmd.Flags().StringVar(&operationName, "operation", "CONVOLUTION", "The operation")
	estimateCmd.Flags().StringVar(&mpeMode, "mpe-mode", "4x4", "MPE mode on V20/V21 (4x4, 16x1, 4x1)")
	estimateCmd.Flags().StringVar(&nthwNTK, "nthw-ntk", "8x8", "NTHW/NTK mode on V27/V40 (4x16, 8x8, 16x4)")

	estimateCmd.Flags().IntVarP(&width, "width", "x", 56, "Input tensor width")
	estimateCmd.Flags().IntVarP(&height, "height", "y", 56, "Input tensor height")
	estimateCmd.Flags().IntVar(&inputChannels, "input-channels", 64, "Input tensor channels")
	estimateCmd.Flags().IntVar(&outputChannels, "output-channels", 64, "Output tensor channels")
	estimateCmd.Flags().IntVarP(&batch, "batch", "b", 1, "Tensor batch")
	estimateCmd.Flags().IntVarP(&kernel, "kernel", "k", 1, "Operation kernel (square)")
	estimateCmd.Flags().IntVarP(&padding, "padding", "p", 0, "Operation padding (all sides)")
	estimateCmd.Flags().IntVarP(&strides, "strides", "s", 1, "Operation strides")

	estimateCmd.Flags().StringVar(&inputDtype, "input-dtype", "UINT8", "Input datatype")
	estimateCmd.Flags().StringVar(&outputDtype, "output-dtype", "UINT8", "Output datatype")

	estimateCmd.Flags().Float64Var(&actSparsity, "act-sparsity", 0, "Activation tensor sparsity rate")
	estimateCmd.Flags().Float64Var(&paramSparsity, "param-sparsity", 0, "Weight tensor sparsity rate")
	estimateCmd.Flags().BoolVar(&paramSparsityEnabled, "param-sparsity-enabled", false, "Weight tensor sparsity enabled")
	estimateCmd.Flags().IntVar(&outputWriteTiles, "output-write-tiles", 1, "CMX tiles the output is broadcast to (1 = no broadcast)")

	rootCmd.AddCommand(estimateCmd)
}
