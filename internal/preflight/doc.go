// Package preflight provides readiness checks for the directories and
// external services gleaner depends on.
//
// The daemon runs RunAll at startup and logs failures as warnings; the
// "gleaner doctor" command renders the same results. Checks for optional
// services are skipped when the feature is not configured.
package preflight
