// Command tandem-go is the offline-first sync daemon and CLI for the
// Tandem task-sharing app. Local edits queue in a durable action log and
// drain to the document API when the network allows; conflicts park for
// user resolution instead of silently losing writes.
package main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
