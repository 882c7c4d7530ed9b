// Package dataset loads the arrest-records CSV into memory and executes the
// statistical queries clients can request: distributions, frequency
// rankings and time-based breakdowns. Results are codec.Tables ready for
// transmission.
package dataset
