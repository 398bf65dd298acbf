package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newReloadCmd builds `reload`: notifies any running watcher/worker daemons
// to pick up an edited config file via SIGHUP, mirroring the teacher's
// pause/resume notifyDaemon helper. Non-fatal if a daemon isn't running —
// it will simply pick up the new config on its next start.
func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Signal running watcher/worker daemons to reload their configuration",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: runReload,
	}
}

func runReload(cmd *cobra.Command, _ []string) error {
	notifyDaemon("watcher", pidPath())
	notifyDaemon("worker", workerPidPath())

	return nil
}

// notifyDaemon attempts to send SIGHUP to the named daemon's PID file.
func notifyDaemon(name, path string) {
	if err := sendSIGHUP(path); err != nil {
		fmt.Printf("%s: %v — changes take effect on next start\n", name, err)
		return
	}

	fmt.Printf("%s: notified to reload configuration\n", name)
}
