/*
Package steps generates the planned pipeline for a submission.

Generate is a pure function from (analysts, research_depth, market_type) to
an ordered, immutable step list: a fixed preparation phase, one step per
selected analyst, a bull/bear debate phase at depth 2+, the trader stage,
a four-way risk review at depth 3+ (a single risk prompt below), signal
processing, and a fixed post-processing phase. Per-step weights are
table-driven rough cost proportions renormalized to sum to 1.0.

The Plan also carries the module-name to step-index lookup the tracker
uses to correlate progress messages, and EstimateDuration computes the
configured run-time estimate the tracker reports as remaining time.
*/
package steps
