// Package tracker records pipeline runs and step runs for enrichment items.
//
// A pipeline run is opened once per orchestration of an item and reused while
// it stays open, so a restarted or re-entered orchestration never forks a
// second run. Step runs belong to a pipeline run and must reach a terminal
// status before the run is finalized. FinalizeRun only touches runs that are
// still running, which makes repeated finalization from several failure paths
// a no-op.
package tracker
