// Package extract pulls structured signals out of free-form text: compiler
// diagnostics from simulator logs, transition coverage from coverage reports,
// HDL module blocks from model responses, and a handful of testbench
// acceptance markers.
//
// Every function is pure apart from the file helpers, which read the named
// file and treat a missing file as empty text. Absent markers always mean
// "no findings", never an error.
package extract
