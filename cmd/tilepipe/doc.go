// Command tilepipe runs and operates the layer conversion pipeline.
//
// `tilepipe run` starts the daemon: one worker per stage plus the HTTP API.
// The remaining commands open the configured backends directly, so they work
// whether or not a daemon is running against the same data directory:
//
//	tilepipe submit <location>      create a layer job
//	tilepipe status <id>...         show job status
//	tilepipe retry <id>             reset a job to Processing
//	tilepipe artifacts list <stage> list stored artifacts
//	tilepipe artifacts fetch <id>   copy a finished layer locally
//	tilepipe queue stats|purge      inspect or empty stage queues
//	tilepipe jobs summary|clear     local status database maintenance
//	tilepipe workspace clean        remove stale scratch workspaces
//	tilepipe deps                   check converters and directories
//	tilepipe notify test            send a test ntfy notification
//	tilepipe logs [-f] [--job id]   show daemon log output
//	tilepipe config init|validate   manage the configuration file
package main
