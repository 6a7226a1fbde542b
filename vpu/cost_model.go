package vpu

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// VPUCostModel is the façade over the whole estimation pipeline:
// sanitize, preprocess, cache, predict, range-check, and combine with
// the analytic estimators. One instance owns its predictor runtime,
// cache and scratch buffers and serializes all calls; concurrent use
// needs one instance per goroutine.

// DPUInfoPack is the all-in-one answer for a workload. A zero in any
// numeric field means the value could not be computed.
type DPUInfoPack struct {
	DPUCycles CyclesInterfaceType
	ErrInfo   string

	Energy float64

	// Power flavor: credits hardware optimizations such as sparsity.
	PowerActivityFactor float64
	PowerMACUtilization float64
	PowerIdealCycles    uint64
	SparseMACOperations uint64

	// Efficiency flavor: dense mathematical work, no sparsity credit.
	EfficiencyActivityFactor float64
	EfficiencyMACUtilization float64
	EfficiencyIdealCycles    uint64
	DenseMACOperations       uint64

	HWTheoreticalCycles CyclesInterfaceType
}

// CostModelConfig configures a cost model instance.
type CostModelConfig struct {
	// ModelPath is the serialized predictor. Empty means no predictor:
	// every DPU estimate falls back to the analytic lower bound.
	ModelPath string

	// CacheSize is the LRU capacity in entries; 0 selects the default.
	CacheSize int

	// BatchSize is the probable batch for batched estimation; the model
	// file overrides it.
	BatchSize int

	// Constants overrides the embedded hardware-constants table.
	Constants *HardwareConstants

	// Logger receives rewrite warnings and load diagnostics; nil means
	// the standard logger.
	Logger *logrus.Logger
}

const defaultCacheSize = 16384

// NN output range: values outside are not representable as uint32
// cycles and are treated as aberrant predictions. Zero stays allowed,
// the network may use it to signal "no answer".
const (
	lowThreshold  float32 = 0.0
	highThreshold float32 = 4000000000.0
)

// defaultNNOutput fills batch results when no predictor is loaded.
const defaultNNOutput float32 = -1.0

type VPUCostModel struct {
	log *logrus.Logger

	runtime       *Runtime
	factory       *PreprocessingFactory
	preprocessing Preprocessor
	cache         *LRUCache
	sanitizer     *DPUSanitizer
	powerLUT      *PowerFactorLUT
	constants     *HardwareConstants
	shaveGen2     *ShaveConfiguration

	// resultsBuffer backs batched results; reused across calls.
	resultsBuffer []float32
}

// NewCostModel loads the predictor named by the config and wires the
// full pipeline. It fails only on the two construction-time contract
// violations: no preprocessor for the model's input interface version,
// or an unsupported output interface version.
func NewCostModel(cfg CostModelConfig) (*VPUCostModel, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	runtime := NewRuntime(cfg.ModelPath, cfg.BatchSize, log)
	return newCostModel(runtime, cfg, log)
}

// NewCostModelFromRuntime wires the pipeline over an already
// constructed runtime. Embedders holding in-memory models and tests use
// this path; the version contract checks are identical.
func NewCostModelFromRuntime(runtime *Runtime, cfg CostModelConfig) (*VPUCostModel, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return newCostModel(runtime, cfg, log)
}

func newCostModel(runtime *Runtime, cfg CostModelConfig, log *logrus.Logger) (*VPUCostModel, error) {
	version := runtime.Version()

	factory := NewPreprocessingFactory()
	inputVersion := version.InputInterfaceVersion()
	preprocessing, err := factory.Preprocessor(inputVersion)
	if err != nil {
		return nil, fmt.Errorf("cannot create preprocessing stage for input interface version %d (model version %q): %w",
			inputVersion, version.RawName(), err)
	}

	if !version.OutputSupported() {
		return nil, fmt.Errorf("cannot handle model output interface version %d (model version %q)",
			version.OutputInterfaceVersion(), version.RawName())
	}

	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}
	constants := cfg.Constants
	if constants == nil {
		constants = DefaultHardwareConstants()
	}

	m := &VPUCostModel{
		log:           log,
		runtime:       runtime,
		factory:       factory,
		preprocessing: preprocessing,
		cache:         NewLRUCache(cacheSize),
		sanitizer:     NewDPUSanitizer(log),
		powerLUT:      NewPowerFactorLUT(),
		constants:     constants,
		shaveGen2:     NewShaveConfiguration(),
	}
	m.correlatePreprocessorWithModelInputs()
	return m, nil
}

// correlatePreprocessorWithModelInputs resizes the descriptor to the
// model's declared input width when they disagree. Truncation may make
// inference impossible; extension leaves trailing zeros. Either way the
// mismatch is surfaced in the log.
func (m *VPUCostModel) correlatePreprocessorWithModelInputs() {
	if !m.runtime.Initialized() {
		return
	}
	_, modelWidth := m.runtime.InputShape()
	if modelWidth > 0 && modelWidth != m.preprocessing.OutputSize() {
		m.log.Warnf("changing preprocessing output size (%d) to the model input size (%d)",
			m.preprocessing.OutputSize(), modelWidth)
		m.preprocessing.SetSize(modelWidth)
	}
}

// NNInitialized reports whether a predictor is loaded. Without one,
// every DPU estimate is the analytic theoretical bound.
func (m *VPUCostModel) NNInitialized() bool {
	return m.runtime.Initialized()
}

// NNValidInterval is the raw predictor output range considered usable.
func (m *VPUCostModel) NNValidInterval() (float32, float32) {
	return lowThreshold, highThreshold
}

func isNNValueInvalid(v float32) bool {
	return v > highThreshold || v < lowThreshold
}

// runNN predicts one workload through the cache. No sanitation, no
// initialization check; callers hold both.
func (m *VPUCostModel) runNN(wl *DPUWorkload) (float32, error) {
	descriptor := m.preprocessing.Transform(wl)
	if cached, ok := m.cache.Get(descriptor); ok {
		return cached, nil
	}
	out, err := m.runtime.Predict(descriptor)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("predictor returned no outputs")
	}
	m.cache.Add(descriptor, out[0])
	return out[0], nil
}

// runNNBatch predicts all workloads in model-batch-sized slices,
// bypassing the cache. Results come back in input order; the backing
// buffer is reused, so callers consume it before the next batched call.
func (m *VPUCostModel) runNNBatch(wls []DPUWorkload) []float32 {
	if cap(m.resultsBuffer) < len(wls) {
		m.resultsBuffer = make([]float32, len(wls))
	}
	m.resultsBuffer = m.resultsBuffer[:len(wls)]

	if !m.NNInitialized() {
		for i := range m.resultsBuffer {
			m.resultsBuffer[i] = defaultNNOutput
		}
		return m.resultsBuffer
	}

	modelBatch, _ := m.runtime.InputShape()
	if modelBatch < 1 {
		modelBatch = 1
	}
	descriptorSize := m.preprocessing.OutputSize()
	buffer := m.preprocessing.TransformBatch(wls, modelBatch)
	perBatch := descriptorSize * modelBatch

	for start := 0; start < len(wls); start += modelBatch {
		slice := buffer[start*descriptorSize : start*descriptorSize+perBatch]
		out, err := m.runtime.Predict(slice)
		end := start + modelBatch
		if end > len(wls) {
			end = len(wls)
		}
		for i := start; i < end; i++ {
			if err != nil || i-start >= len(out) {
				// Surfaces per element as ERROR_INVALID_OUTPUT_RANGE.
				m.resultsBuffer[i] = float32(math.Inf(1))
			} else {
				m.resultsBuffer[i] = out[i-start]
			}
		}
	}
	return m.resultsBuffer
}

// DPU returns the estimated execution cycles of a workload, or an error
// sentinel.
func (m *VPUCostModel) DPU(wl DPUWorkload) CyclesInterfaceType {
	var info string
	return m.dpuAndSanitize(&wl, &info)
}

// DPUMsg is DPU plus the textual findings collected while checking the
// workload.
func (m *VPUCostModel) DPUMsg(wl DPUWorkload) (CyclesInterfaceType, string) {
	var info string
	cycles := m.dpuAndSanitize(&wl, &info)
	return cycles, info
}

// dpuAndSanitize runs the single-workload pipeline, leaving the
// sanitized workload in wl so callers can derive ideal cycles from what
// was actually estimated.
func (m *VPUCostModel) dpuAndSanitize(wl *DPUWorkload, info *string) CyclesInterfaceType {
	var report SanityReport
	m.sanitizer.CheckAndSanitize(wl, &report)
	*info = report.Info

	if !report.IsUsable() {
		return report.Value
	}
	if !m.NNInitialized() {
		return DPUTheoreticalCycles(wl)
	}

	nnOutput, err := m.runNN(wl)
	if err != nil {
		appendInfo(info, fmt.Sprintf("predictor failed: %v", err))
		return ErrorInvalidOutputRange
	}
	if isNNValueInvalid(nnOutput) {
		return ErrorInvalidOutputRange
	}
	return CyclesInterfaceType(math.Ceil(float64(nnOutput)))
}

// DPUBatch estimates many workloads with batched predictor invocations.
// The cache is not consulted: per-element hashing would dominate the
// batched inference. Results are in input order.
func (m *VPUCostModel) DPUBatch(workloads []DPUWorkload) []CyclesInterfaceType {
	// Sanitization rewrites stay on this local copy, never on the
	// caller's slice.
	workloads = append([]DPUWorkload(nil), workloads...)
	n := len(workloads)
	cycles := make([]CyclesInterfaceType, n)
	reports := make([]SanityReport, n)

	for i := range workloads {
		m.sanitizer.CheckAndSanitize(&workloads[i], &reports[i])
	}

	nnResults := m.runNNBatch(workloads)
	inferencePossible := m.NNInitialized()

	for i := range workloads {
		if !reports[i].IsUsable() {
			cycles[i] = reports[i].Value
			continue
		}
		if !inferencePossible {
			cycles[i] = DPUTheoreticalCycles(&workloads[i])
			continue
		}
		if isNNValueInvalid(nnResults[i]) {
			cycles[i] = ErrorInvalidOutputRange
			continue
		}
		cycles[i] = CyclesInterfaceType(math.Ceil(float64(nnResults[i])))
	}
	return cycles
}

// HWUtilization is the power-flavor MAC utilization.
func (m *VPUCostModel) HWUtilization(wl DPUWorkload) float64 {
	return m.PowerMACUtilization(wl)
}

// PowerMACUtilization is the share of ideal MAC resources the workload
// uses, crediting sparsity. In [0, 1] for sane predictions; zero
// signals problems.
func (m *VPUCostModel) PowerMACUtilization(wl DPUWorkload) float64 {
	return m.macUtilization(&wl, DPUPowerIdealCycles)
}

// EfficiencyMACUtilization is the dense-work MAC utilization; with
// sparsity active it can exceed one.
func (m *VPUCostModel) EfficiencyMACUtilization(wl DPUWorkload) float64 {
	return m.macUtilization(&wl, DPUEfficiencyIdealCycles)
}

func (m *VPUCostModel) macUtilization(wl *DPUWorkload, idealCycles func(*DPUWorkload) uint64) float64 {
	var info string
	estimated := m.dpuAndSanitize(wl, &info) // may rewrite wl
	return relativeMACUtilization(estimated, idealCycles(wl))
}

// relativeMACUtilization is ideal over estimated cycles; zero when the
// estimate is an error or zero.
func relativeMACUtilization(estimated CyclesInterfaceType, idealCycles uint64) float64 {
	if IsErrorCode(estimated) || estimated == 0 {
		return 0
	}
	return float64(idealCycles) / float64(estimated)
}

// DPUActivityFactor is the historical alias of the power flavor.
func (m *VPUCostModel) DPUActivityFactor(wl DPUWorkload) float64 {
	return m.DPUPowerActivityFactor(wl)
}

// DPUPowerActivityFactor estimates the dynamic power of the workload
// relative to the device power virus, clamped to the device ceiling.
func (m *VPUCostModel) DPUPowerActivityFactor(wl DPUWorkload) float64 {
	utilization := m.PowerMACUtilization(wl) // zero propagates
	rough := m.agnosticActivityFactor(&wl, utilization)
	return math.Min(rough, m.constants.PowerVirusExceed(wl.Device))
}

// DPUEfficiencyActivityFactor is the unclamped activity factor over the
// dense-work utilization.
func (m *VPUCostModel) DPUEfficiencyActivityFactor(wl DPUWorkload) float64 {
	utilization := m.EfficiencyMACUtilization(wl)
	return m.agnosticActivityFactor(&wl, utilization)
}

// agnosticActivityFactor is utilization scaled by the operation's power
// factor. The sparse correction is an experimental knob held at 1.
func (m *VPUCostModel) agnosticActivityFactor(wl *DPUWorkload, utilization float64) float64 {
	const sparseCorrection = 1.0
	return utilization * m.powerLUT.OperationPowerFactor(wl) * sparseCorrection
}

// DPUEnergy is the workload energy in power-virus-cycle units. The
// time-independent form ideal_cycles x power_factor is used: activity
// factor times estimated cycles reduces to it, minus the ceiling clamp.
func (m *VPUCostModel) DPUEnergy(wl DPUWorkload) float64 {
	return m.energyFromIdealCycles(&wl, DPUPowerIdealCycles(&wl))
}

func (m *VPUCostModel) energyFromIdealCycles(wl *DPUWorkload, idealCycles uint64) float64 {
	return float64(idealCycles) * m.powerLUT.OperationPowerFactor(wl)
}

// SHAVEEnergy is the software-kernel energy relative to the DPU power
// virus: a constant 0.5 activity factor at 5% of DPU max power.
func (m *VPUCostModel) SHAVEEnergy(swl *SWOperation) float64 {
	const activityFactor = 0.5
	const maxPowerRatioToDPU = 0.05
	return activityFactor * maxPowerRatioToDPU * float64(m.SHAVE(swl))
}

// DMA estimates a memory transfer in cycles.
func (m *VPUCostModel) DMA(wl DMAWorkload) uint32 {
	return DMATheoreticalCycles(&wl)
}

// DMACycles is the unpacked-parameter convenience over DMA.
func (m *VPUCostModel) DMACycles(device Device, input, output VPUTensor,
	inputLocation, outputLocation MemoryLocation, outputWriteTiles uint) uint32 {
	return m.DMA(DMAWorkload{
		Device:           device,
		Input:            input,
		Output:           output,
		InputLocation:    inputLocation,
		OutputLocation:   outputLocation,
		OutputWriteTiles: outputWriteTiles,
	})
}

// SHAVE estimates a legacy software kernel from the cost parameters it
// carries. Prefer SHAVE2: this path cannot report unknown kernels.
func (m *VPUCostModel) SHAVE(swl *SWOperation) uint32 {
	return SHAVETheoreticalCycles(swl)
}

// SHAVE2 resolves a named kernel against the device catalog and returns
// its cycles, or ErrorInvalidInputConfiguration with the finding in the
// info string.
func (m *VPUCostModel) SHAVE2(swl SHAVEWorkload) (CyclesInterfaceType, string) {
	var info string
	cycles := m.shaveGen2.ComputeCycles(&swl, &info)
	return cycles, info
}

// ShaveSupportedOperations lists the modeled kernel names for a device.
func (m *VPUCostModel) ShaveSupportedOperations(device Device) []string {
	return m.shaveGen2.SupportedOperations(device)
}

// DPUInfo computes the whole information pack in one pass, cloning and
// sanitizing the workload once.
func (m *VPUCostModel) DPUInfo(workload DPUWorkload) DPUInfoPack {
	var all DPUInfoPack
	w := workload // local clone, sanitization rewrites stay here

	all.DPUCycles = m.dpuAndSanitize(&w, &all.ErrInfo)

	all.SparseMACOperations = SparseMACOperations(&w)
	all.PowerIdealCycles = DPUPowerIdealCycles(&w)
	all.PowerMACUtilization = relativeMACUtilization(all.DPUCycles, all.PowerIdealCycles)
	rough := m.agnosticActivityFactor(&w, all.PowerMACUtilization)
	all.PowerActivityFactor = math.Min(rough, m.constants.PowerVirusExceed(w.Device))
	all.Energy = m.energyFromIdealCycles(&w, all.PowerIdealCycles)

	all.DenseMACOperations = DenseMACOperations(&w)
	all.EfficiencyIdealCycles = DPUEfficiencyIdealCycles(&w)
	all.EfficiencyMACUtilization = relativeMACUtilization(all.DPUCycles, all.EfficiencyIdealCycles)
	all.EfficiencyActivityFactor = m.agnosticActivityFactor(&w, all.EfficiencyMACUtilization)

	all.HWTheoreticalCycles = DPUTheoreticalCycles(&w)
	return all
}
