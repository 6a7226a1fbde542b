package vpu

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/interp"
	"gopkg.in/yaml.v3"
)

// Power modeling: the per-operation power-factor lookup table with
// logarithmic interpolation, the loadable hardware-constants table and
// the dynamic/static power formulas.

//go:embed power_table.yaml
var defaultPowerTable []byte

// DVFS is one dynamic voltage and frequency scaling point.
type DVFS struct {
	Voltage   float64 `yaml:"voltage"`   // Volt
	Frequency float64 `yaml:"frequency"` // MHz
}

// HardwareConstants is the data table backing the power model. The
// embedded defaults carry the known DVFS points and activity-factor
// ceilings; CDyn and leakage stay zero until a calibrated table is
// loaded.
type HardwareConstants struct {
	PowerVirusExceedFactor map[string]float64            `yaml:"power_virus_exceed_factor"`
	DVFSPoints             map[string][]DVFS             `yaml:"dvfs"`
	CDyn                   map[string]map[string]float64 `yaml:"cdyn"`
	Leakage                map[string]map[string]float64 `yaml:"leakage"`
}

// DefaultHardwareConstants parses the embedded table.
func DefaultHardwareConstants() *HardwareConstants {
	hc, err := parseHardwareConstants(defaultPowerTable)
	if err != nil {
		// The embedded table is part of the build; a parse failure is a
		// packaging defect, not a runtime condition.
		panic(fmt.Sprintf("embedded power table: %v", err))
	}
	return hc
}

// LoadHardwareConstants reads a calibrated constants table from a YAML
// file.
func LoadHardwareConstants(path string) (*HardwareConstants, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read power table %q: %w", path, err)
	}
	hc, err := parseHardwareConstants(data)
	if err != nil {
		return nil, fmt.Errorf("parse power table %q: %w", path, err)
	}
	return hc, nil
}

func parseHardwareConstants(data []byte) (*HardwareConstants, error) {
	var hc HardwareConstants
	if err := yaml.Unmarshal(data, &hc); err != nil {
		return nil, fmt.Errorf("unmarshal power table: %w", err)
	}
	return &hc, nil
}

// PowerVirusExceed is the ceiling applied to the power activity
// factor for a device. Unknown devices get 1.0 (no headroom above the
// power virus).
func (hc *HardwareConstants) PowerVirusExceed(device Device) float64 {
	if f, ok := hc.PowerVirusExceedFactor[device.String()]; ok {
		return f
	}
	return 1.0
}

// ValidDVFS returns the DVFS points of a device.
func (hc *HardwareConstants) ValidDVFS(device Device) []DVFS {
	return hc.DVFSPoints[device.String()]
}

// DefaultDVFS returns the highest-frequency DVFS point of a device.
func (hc *HardwareConstants) DefaultDVFS(device Device) DVFS {
	var best DVFS
	for _, p := range hc.ValidDVFS(device) {
		if p.Frequency > best.Frequency {
			best = p
		}
	}
	return best
}

// GetCDyn returns the dynamic capacitance in nF for a device subsystem.
func (hc *HardwareConstants) GetCDyn(device Device, sub Subsystem) float64 {
	if m, ok := hc.CDyn[device.String()]; ok {
		return m[sub.String()]
	}
	return 0
}

// NominalLeakage returns the leakage in mW for a device subsystem.
func (hc *HardwareConstants) NominalLeakage(device Device, sub Subsystem) float64 {
	if m, ok := hc.Leakage[device.String()]; ok {
		return m[sub.String()]
	}
	return 0
}

// DynamicPower is cdyn * f * V^2 * activity factor, in mW.
func DynamicPower(cdyn, activityFactor float64, dvfs DVFS) float64 {
	return cdyn * dvfs.Frequency * dvfs.Voltage * dvfs.Voltage * activityFactor
}

// StaticPower scales the nominal leakage of a subsystem to the given
// DVFS point.
func (hc *HardwareConstants) StaticPower(device Device, sub Subsystem, dvfs DVFS) float64 {
	nominal := hc.NominalLeakage(device, sub)
	nominalVoltage := hc.DefaultDVFS(device).Voltage
	if nominalVoltage == 0 {
		return 0
	}
	return nominal * dvfs.Voltage / nominalVoltage
}

// DMAPower is the dynamic power of a DMA transfer at a DVFS point. The
// engine is either moving data or idle, so its activity factor is 1.
func (hc *HardwareConstants) DMAPower(wl *DMAWorkload, dvfs DVFS) float64 {
	return DynamicPower(hc.GetCDyn(wl.Device, SubsystemDMA), 1.0, dvfs)
}

// --- power factor LUT ---

// powerFactorTable maps log2(input channels) to the measured power
// factor of an operation. Values come from silicon power simulation of
// the reference workloads; devices without measurements are absent and
// resolve to factor 0 (energy not computable).
var powerFactorTable = map[Device]map[Operation]map[uint]float64{
	DeviceV20: {
		OpConvolution: {
			4: 0.87, 5: 0.92, 6: 1.0, 7: 0.95, 8: 0.86, 9: 0.87,
		},
		OpDWConvolution: {6: 5.84},
		OpAvePool:       {6: 32.60},
		OpMaxPool:       {6: 5.29},
		OpEltwise:       {7: 232.71},
	},
	DeviceV27: {
		OpConvolution: {
			4: 1.97, 7: 1.20, 8: 1.08, 9: 1.07, 10: 1.01, 11: 0.97,
		},
		OpDWConvolution: {6: 1.43},
		OpAvePool:       {6: 0.29},
		OpMaxPool:       {6: 1.15},
		OpEltwise:       {8: 0.11},
	},
}

// PowerFactorLUT resolves the relative dynamic power of an operation
// against the device's reference power virus, interpolating in
// log2(input channels) space between measured points.
type PowerFactorLUT struct {
	table map[Device]map[Operation]map[uint]float64
}

// NewPowerFactorLUT builds the LUT over the built-in measurement table.
func NewPowerFactorLUT() *PowerFactorLUT {
	return &PowerFactorLUT{table: powerFactorTable}
}

// OperationPowerFactor returns the power factor for a workload, scaled
// for the datatype-specific power virus reference. Devices or
// operations without measurements return 0.
func (l *PowerFactorLUT) OperationPowerFactor(wl *DPUWorkload) float64 {
	ops, ok := l.table[wl.Device]
	if !ok {
		return 0
	}
	// DPUInfo queries with the sanitized workload (AVEPOOL already
	// rewritten); DPUEnergy and the activity-factor entry points query
	// with the workload as given, so the measured AVEPOOL entry is kept.
	entries, ok := ops[wl.Op]
	if !ok || len(entries) == 0 {
		return 0
	}

	raw := interpolateLog2(entries, wl.InputChannels())
	return scalePowerFactor(raw, wl.Inputs[0].Dtype.IsFloat(), wl.Device)
}

// interpolateLog2 evaluates the table at log2(ic), linearly between the
// bracketing measurements. Queries outside the measured range clamp to
// the nearest entry; an exact hit returns the entry itself.
func interpolateLog2(entries map[uint]float64, inputChannels uint) float64 {
	if inputChannels == 0 {
		return 0
	}

	keys := make([]uint, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	if len(keys) == 1 {
		return entries[keys[0]]
	}

	xs := make([]float64, len(keys))
	ys := make([]float64, len(keys))
	for i, k := range keys {
		xs[i] = float64(k)
		ys[i] = entries[k]
	}

	x := math.Log2(float64(inputChannels))
	if x < xs[0] {
		x = xs[0]
	}
	if x > xs[len(xs)-1] {
		x = xs[len(xs)-1]
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return 0
	}
	return pl.Predict(x)
}

// scalePowerFactor applies the device/datatype correction: the V20
// reference virus is integer (float compute draws less), the V27
// reference is float (integer compute draws less).
func scalePowerFactor(value float64, floatCompute bool, device Device) float64 {
	if device == DeviceV20 && floatCompute {
		return value * 0.87
	}
	if device == DeviceV27 && !floatCompute {
		return value * 0.79
	}
	return value
}
