// Package logging provides structured logging for ciftiprep runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs that can be
// filtered after the fact. Every external tool invocation is logged before it
// runs, so the log of a dry run is a complete transcript of what a real run
// would execute.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer, which lets the batch
// command run several subjects against one log file.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/data/hcp/subject_1", "INFO", nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithRun(runID).WithSubject("subject_1")
//	log.Info("command", "cmd", "wb_command -set-structure ...")
//
// # Attributes
//
//   - run_id: unique per pipeline invocation
//   - subject: subject identifier
//   - hemisphere: L or R
//   - mesh: mesh name such as native or 32k_fs_LR
package logging
