// Package vpu estimates execution cycles, energy and activity factors
// for workloads on fixed-function neural-inference accelerators.
//
// # Reading Guide
//
// Start with these three files to understand the estimation pipeline:
//   - workload.go: DPUWorkload and friends, the inputs to every estimate
//   - validation.go: the sanitizer that normalizes and gates workloads
//   - cost_model.go: the façade wiring sanitize → preprocess → cache →
//     predict → range-check, with analytic fallbacks
//
// # Architecture
//
// A VPUCostModel owns one predictor runtime, one LRU cache and one
// preprocessor chosen by the loaded model's input interface version.
// Estimates flow through the sanitizer first; rewrites there
// (AVEPOOL → DW_CONVOLUTION, small-channel CONVOLUTION → CM_CONVOLUTION,
// channel alignment, datatype canonicalization) keep workloads on the
// shapes the predictor was trained on. Invalid workloads never reach
// the predictor: they return sentinel cycle codes from the top of the
// uint32 range.
//
// Alongside the learned path sit the analytic estimators: MAC-bound
// theoretical DPU cycles (also the fallback when no model is loaded),
// DMA transfer cycles, the SHAVE kernel catalog and the power-factor
// tables that turn ideal cycles into energy.
//
// One instance serializes all operations; construct one instance per
// goroutine for parallel estimation.
package vpu
