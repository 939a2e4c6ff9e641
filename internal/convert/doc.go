// Package convert invokes the external GIS tools that do the actual format
// conversion.
//
// Each converter builds a deterministic argument list, runs the tool through
// an Executor with output captured, and classifies failures: a non-zero exit
// becomes a ConversionError carrying the exit code and the tail of the tool's
// output, and an invocation that outlives its timeout has its whole process
// group killed and is reported as services.ErrTimeout. No retries happen here.
package convert
