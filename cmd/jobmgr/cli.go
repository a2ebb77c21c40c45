package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shellqueue/jobmgr/internal/config"
	"github.com/shellqueue/jobmgr/internal/daemon"
	"github.com/shellqueue/jobmgr/internal/jobstore"
	"github.com/shellqueue/jobmgr/internal/logging"
	"github.com/shellqueue/jobmgr/internal/manager"
	"github.com/shellqueue/jobmgr/internal/output"
)

// TODO: Inject version at build time.
const version = "0.1.0"

type cli struct {
	baseDir string

	cfg      *config.Config
	mgr      *manager.Manager
	logClose io.Closer
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	command := &cobra.Command{
		Use:          "jobmgr",
		Short:        "Queue shell commands and run them in the background",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.baseDir)
			if err != nil {
				return err
			}

			if err := cfg.EnsureDirs(); err != nil {
				return err
			}

			logger, closer, err := logging.NewLogger(cfg.LogFile(), cfg.LogLevel)
			if err != nil {
				return err
			}

			c.cfg = cfg
			c.mgr = manager.New(cfg, logger)
			c.logClose = closer

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.logClose == nil {
				return nil
			}

			return c.logClose.Close()
		},
	}

	command.AddCommand(
		c.addCmd(),
		c.listCmd(),
		c.runCmd(),
		c.pauseCmd(),
		c.resumeCmd(),
		c.viewCmd(),
		c.startCmd(),
		c.stopCmd(),
		c.deleteCmd(),
		c.cleanCmd(),
		c.daemonCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&c.baseDir,
		"base-dir",
		"",
		"Directory for job state (default $JOBMGR_HOME or ~/.jobmgr)",
	)

	return command
}

func (c *cli) addCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "add [flags] COMMAND...",
		Short:   "Queue a shell command for background execution",
		Example: "  jobmgr add make -j8 test",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workdir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}

			id, err := c.mgr.Add(strings.Join(args, " "), workdir)
			if err != nil {
				return mapError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "added job %d\n", id)
			c.daemonReminder(cmd)

			return nil
		},
	}

	// Stop parsing args after the first position so that flags belonging to
	// the queued command are stored as-is, e.g. `-j8` is part of the job in
	// `jobmgr add make -j8 test`.
	command.Flags().SetInterspersed(false)

	return command
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs with their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := c.mgr.List()
			if err != nil {
				return mapError(err)
			}

			for _, job := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%s] %s\n", job.ID, job.Status, job.Command)
			}

			c.daemonReminder(cmd)

			return nil
		},
	}
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run all pending jobs now and wait for them to finish",
		Long: "Run performs a one-shot dispatch of every pending job without " +
			"needing the daemon, blocking until the dispatched jobs finish.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.mgr.RunPending(); err != nil {
				return mapError(err)
			}

			c.daemonReminder(cmd)

			return nil
		},
	}
}

func (c *cli) pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "pause JOB_ID",
		Short:   "Suspend a running job",
		Example: "  jobmgr pause 2",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			if err := c.mgr.Pause(id); err != nil {
				return mapError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "paused job %d\n", id)
			c.daemonReminder(cmd)

			return nil
		},
	}
}

func (c *cli) resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resume JOB_ID",
		Short:   "Continue a paused job",
		Example: "  jobmgr resume 2",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			if err := c.mgr.Resume(id); err != nil {
				return mapError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "resumed job %d\n", id)
			c.daemonReminder(cmd)

			return nil
		},
	}
}

func (c *cli) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "view JOB_ID",
		Short:   "Show the captured output of a job",
		Example: "  jobmgr view 1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			text, err := c.mgr.View(id)
			if err != nil {
				if errors.Is(err, output.ErrNoOutput) {
					fmt.Fprintf(cmd.OutOrStdout(), "no output yet for job %d\n", id)
					c.daemonReminder(cmd)
					return nil
				}

				return mapError(err)
			}

			fmt.Fprint(cmd.OutOrStdout(), text)
			c.daemonReminder(cmd)

			return nil
		},
	}
}

func (c *cli) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			daemonArgs := []string{"daemon"}
			if c.baseDir != "" {
				daemonArgs = append(daemonArgs, "--base-dir", c.baseDir)
			}

			if err := c.mgr.Daemon().Start(daemonArgs); err != nil {
				return mapError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "daemon started")

			return nil
		},
	}
}

func (c *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.mgr.Daemon().Stop(); err != nil {
				return mapError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")

			return nil
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete JOB_ID",
		Short:   "Remove a job from the queue",
		Long:    "Delete removes a single job record. Jobs after it shift down by one id.",
		Example: "  jobmgr delete 3",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			if err := c.mgr.Delete(id); err != nil {
				return mapError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted job %d\n", id)
			c.daemonReminder(cmd)

			return nil
		},
	}
}

func (c *cli) cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove all jobs and their stored output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.mgr.Clean(); err != nil {
				return mapError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "removed all jobs and output")
			c.daemonReminder(cmd)

			return nil
		},
	}
}

// daemonCmd is the body of the detached daemon process spawned by start. It
// is also handy for running the dispatch loop in the foreground while
// debugging.
func (c *cli) daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "daemon",
		Short:  "Run the dispatch loop in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mapError(c.mgr.Daemon().Run(cmd.Context()))
		},
	}
}

// daemonReminder nudges the user after informational commands when nothing
// is going to pick their jobs up.
func (c *cli) daemonReminder(cmd *cobra.Command) {
	if c.mgr.Daemon().Running() {
		return
	}

	fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running; start it with 'jobmgr start'")
}

func parseJobID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}

	return id, nil
}

// mapError translates component errors to short user-facing messages.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, jobstore.ErrNotFound):
		return errors.New("job not found")

	case errors.Is(err, jobstore.ErrBusy):
		return errors.New("jobs are still active; stop the daemon and wait for running jobs first")

	case errors.Is(err, daemon.ErrAlreadyRunning):
		return errors.New("daemon is already running")

	case errors.Is(err, daemon.ErrNotRunning):
		return errors.New("daemon is not running")

	default:
		return err
	}
}
