package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(command{out: os.Stdout, errOut: os.Stderr})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(c command) *cobra.Command {
	global := &GlobalFlags{}
	runFlags := &RunFlags{}
	remoteFlags := &RemoteFlags{}
	restartFlags := &RestartFlags{}
	stopFlags := &StopFlags{}

	root := createRootCommand(global)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.AddCommand(
		createRunCommand(c, global, runFlags),
		createVerifyCommand(c, global),
		createArgsCommand(c, global),
		createScheduleCommand(c, global),
		createStatusCommand(c, global, remoteFlags),
		createRestartCommand(c, global, restartFlags),
		createStopCommand(c, global, stopFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "dayzlauncher",
		Short: "Keep a DayZ dedicated server running",
		Long: `dayzlauncher launches a DayZ dedicated server, relaunches it when it
exits and restarts it at scheduled times with advance warnings.

Examples:
  dayzlauncher run --config launcher.toml
  dayzlauncher verify
  dayzlauncher args
  dayzlauncher schedule
  dayzlauncher status --api-url=http://127.0.0.1:8088/api
  dayzlauncher restart --reason="mod update" --delay=5m`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "launcher.toml", "path to launcher config file")
	return root
}

func createRunCommand(c command, global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Supervise the server until interrupted",
		Long: `Verify the installation, launch the server and keep it running.
SIGINT or SIGTERM stops the server and exits.

Only one launcher may run per lock file; a second one exits immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(RunFlags{
				ConfigPath: global.ConfigPath,
				NoWatch:    flags.NoWatch,
				LockWait:   flags.LockWait,
			})
		},
	}
	cmd.Flags().BoolVar(&flags.NoWatch, "no-watch", false, "do not reload the config file when it changes")
	cmd.Flags().DurationVar(&flags.LockWait, "lock-wait", 0, "wait this long for another launcher to release the lock")
	return cmd
}

func createVerifyCommand(c command, global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the server installation and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Verify(*global)
		},
	}
}

func createArgsCommand(c command, global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "args",
		Short: "Print the server command line, one argument per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Args(*global)
		},
	}
}

func createScheduleCommand(c command, global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Print the configured restart schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Schedule(*global)
		},
	}
}

// addRemoteFlags adds the connection flags of commands that talk to a
// running launcher.
func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "launcher API URL (default: from [api] in the config)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createStatusCommand(c command, global *GlobalFlags, flags *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running launcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*global, *flags)
		},
	}
	addRemoteFlags(cmd, flags)
	return cmd
}

func createRestartCommand(c command, global *GlobalFlags, flags *RestartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the server through a running launcher",
		Long: `Ask a running launcher to restart the server. With --delay players are
warned first; a newer request replaces a pending one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(*global, *flags)
		},
	}
	addRemoteFlags(cmd, &flags.RemoteFlags)
	cmd.Flags().StringVar(&flags.Reason, "reason", "", "reason shown in warnings and history")
	cmd.Flags().DurationVar(&flags.Delay, "delay", 0, "countdown before the restart")
	return cmd
}

func createStopCommand(c command, global *GlobalFlags, flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server and the launcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(*global, *flags)
		},
	}
	addRemoteFlags(cmd, &flags.RemoteFlags)
	cmd.Flags().DurationVar(&flags.Wait, "wait", 30*time.Second, "time the server gets to exit before it is killed")
	return cmd
}
