// Package jobfile turns user input (header lines, YAML job files and plain
// URL arguments) into fetch jobs.
package jobfile
