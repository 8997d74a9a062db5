// Package status owns the workflow status vocabulary for queue items.
//
// Statuses are a closed enum partitioned into phases (discovery, working,
// ready, review, rejected, failed). The persisted representation is a numeric
// code read from the status_codes table; the Registry maps between the two
// and is loaded once per process when the queue store opens.
//
// Every component asks the Registry for codes instead of hardcoding numbers.
// The transition table in this package is the authority on which moves are
// legal; the queue Transition Manager refuses anything it does not list.
package status
