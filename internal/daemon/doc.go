// Package daemon coordinates the long-running gleaner process.
//
// It ties the workflow manager's polling loop and the HTTP trigger surface
// into a single lifecycle with flock-based locking to prevent multiple
// instances against the same data directory. Both run under one errgroup: a
// failing API listener stops the loop and vice versa.
//
// Keep orchestration logic out of here: enrichment lives in the workflow and
// steps packages while the daemon focuses on startup, shutdown, and status.
package daemon
