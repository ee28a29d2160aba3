// Package process runs a single subprocess in its own process group.
//
// A Process is started once. Its stderr (and stdout, unless a raw stdout
// consumer is installed) is read line by line, optionally passed to an
// OutputHandler, and logged at the level a LogParser extracts. Stop asks
// the child to exit, either with SIGINT or by writing a quit token to its
// stdin, then SIGKILLs the whole group after a timeout so no grandchild
// outlives it.
//
//	p := process.New("seg-001", args, logger,
//		process.WithQuitToken("q"),
//		process.WithLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel),
//	)
//	if err := p.Start(); err != nil {
//		return err
//	}
//	code, forced := p.Stop(15 * time.Second)
package process
