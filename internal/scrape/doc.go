// Package scrape reads a running drowseguard server's /metrics endpoint and
// folds the Prometheus text exposition into a Summary for the CLI.
//
// Parsing uses prometheus/common/expfmt into client_model metric families.
// A partial parse with trailing garbage still yields the families read so far.
package scrape
