package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jnoller/condamcp/internal/config"
	"github.com/jnoller/condamcp/internal/history/factory"
	"github.com/jnoller/condamcp/internal/metrics"
	"github.com/jnoller/condamcp/internal/runner"
)

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	runFlags := &ExecFlags{}
	launchFlags := &LaunchFlags{}

	root := &cobra.Command{
		Use:           "condamcp",
		Short:         "Execute and monitor external processes with logged, streamed output",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&gf.ConfigPath, "config", "", "TOML config file")
	pf.StringVar(&gf.LogDir, "log-dir", "", "directory for per-invocation log files (default: private temp dir)")
	pf.StringVar(&gf.LogLevel, "log-level", "info", "operational log level (debug, info, warn, error)")
	pf.BoolVar(&gf.Shell, "shell", false, "run commands through the system shell (enables pipes/redirection)")
	pf.StringVar(&gf.ShellPath, "shell-path", "", "shell binary to use in shell mode")
	pf.BoolVar(&gf.Split, "split", false, "write stdout and stderr to separate log files")
	pf.StringVar(&gf.HistoryDSN, "history-dsn", "", "record invocation history to this sink (sqlite path or postgres:// DSN)")
	pf.BoolVar(&gf.Metrics, "metrics", false, "register Prometheus collectors")

	runCmd := &cobra.Command{
		Use:   "run -- command [args...]",
		Short: "Run a command, stream its output, and wait for it to exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.UseOSEnvSet = cmd.Flags().Changed("use-os-env")
			return runBlocking(gf, runFlags, args)
		},
	}
	addExecFlags(runCmd, runFlags)

	launchCmd := &cobra.Command{
		Use:   "launch -- command [args...]",
		Short: "Launch a command in the background, track it, and report on completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			launchFlags.UseOSEnvSet = cmd.Flags().Changed("use-os-env")
			return runLaunch(gf, launchFlags, args)
		},
	}
	addExecFlags(launchCmd, &launchFlags.ExecFlags)
	launchCmd.Flags().IntVar(&launchFlags.Tail, "tail", 0, "print the last N log lines after completion")
	launchCmd.Flags().BoolVar(&launchFlags.JSON, "json", false, "parse the command's stdout as JSON and print it")
	launchCmd.Flags().DurationVar(&launchFlags.KillAfter, "kill-after", 0, "kill the process after this duration")

	root.AddCommand(runCmd, launchCmd)
	return root
}

func addExecFlags(cmd *cobra.Command, f *ExecFlags) {
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&f.EnvFiles, "env-file", nil, "file of KEY=VALUE lines (repeatable)")
	cmd.Flags().BoolVar(&f.UseOSEnv, "use-os-env", true, "inherit the OS environment as the base")
	cmd.Flags().StringVar(&f.Cwd, "cwd", "", "working directory for the command")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "kill the command after this duration (0 = no timeout)")
	cmd.Flags().BoolVar(&f.NoLog, "no-log", false, "disable the per-invocation log file")
	cmd.Flags().BoolVar(&f.Quiet, "quiet", false, "do not stream output to the terminal")
}

// newRunner assembles a runner from the config file and flag overrides.
func newRunner(gf *GlobalFlags, tracking bool) (*runner.Runner, *config.FileConfig, error) {
	fc := &config.FileConfig{}
	if gf.ConfigPath != "" {
		loaded, err := config.Load(gf.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
		fc = loaded
	}
	if gf.LogDir != "" {
		fc.Runner.LogDir = gf.LogDir
	}
	if gf.Shell {
		fc.Runner.Shell = true
	}
	if gf.ShellPath != "" {
		fc.Runner.ShellPath = gf.ShellPath
	}
	if gf.Split {
		fc.Runner.Split = true
	}
	if gf.LogLevel != "" {
		fc.Log.Level = gf.LogLevel
	}
	if gf.HistoryDSN != "" {
		fc.History.Enabled = true
		fc.History.DSN = gf.HistoryDSN
	}
	if gf.Metrics {
		fc.Metrics.Enabled = true
	}

	log := fc.Log.New()
	if fc.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, nil, err
		}
	}

	cfg := runner.Config{
		LogDir:    fc.Runner.LogDir,
		Shell:     fc.Runner.Shell,
		ShellPath: fc.Runner.ShellPath,
		Split:     fc.Runner.Split,
		Tracking:  tracking || fc.Runner.Tracking,
		Logger:    log,
	}
	if fc.History.Enabled {
		sink, err := factory.NewSinkFromDSN(fc.History.DSN)
		if err != nil {
			return nil, nil, err
		}
		cfg.History = sink
	}

	r, err := runner.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return r, fc, nil
}

// invocationOptions translates exec flags plus config env into runner options.
func invocationOptions(fc *config.FileConfig, f *ExecFlags) runner.Options {
	merged := *fc
	merged.Env = append(append([]string(nil), fc.Env...), f.Env...)
	merged.EnvFiles = append(append([]string(nil), fc.EnvFiles...), f.EnvFiles...)
	merged.UseOSEnv = fc.UseOSEnv || f.UseOSEnv
	if f.UseOSEnvSet {
		// An explicit flag wins over the config either way.
		merged.UseOSEnv = f.UseOSEnv
	}

	opts := runner.Options{
		Env:     merged.BuildEnv(),
		Cwd:     f.Cwd,
		Timeout: f.Timeout,
	}
	if f.NoLog {
		logging := false
		opts.Logging = &logging
	}
	return opts
}

func runBlocking(gf *GlobalFlags, f *ExecFlags, args []string) error {
	r, fc, err := newRunner(gf, false)
	if err != nil {
		return err
	}
	defer r.Teardown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := invocationOptions(fc, f)
	if !f.Quiet {
		opts.Observer = runner.ObserverFunc(func(s runner.Status) {
			if s.Stdout != "" {
				_, _ = fmt.Fprint(os.Stdout, s.Stdout)
			}
			if s.Stderr != "" {
				_, _ = fmt.Fprint(os.Stderr, s.Stderr)
			}
		})
	}

	st, err := r.Run(ctx, args[0], args[1:], opts)
	if err != nil {
		var te *runner.TimeoutError
		if errors.As(err, &te) {
			return fmt.Errorf("command timed out after %s", f.Timeout)
		}
		return err
	}
	if f.Quiet {
		printJSON(st)
	}
	if st.State == runner.StateFailed {
		return fmt.Errorf("command failed with exit code %d", st.ExitCode)
	}
	return nil
}

func runLaunch(gf *GlobalFlags, f *LaunchFlags, args []string) error {
	r, fc, err := newRunner(gf, true)
	if err != nil {
		return err
	}
	defer r.Teardown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := r.Launch(args[0], args[1:], invocationOptions(fc, &f.ExecFlags))
	if err != nil {
		return err
	}
	pid := st.PID
	_, _ = fmt.Fprintf(os.Stderr, "launched pid %d\n", pid)

	if f.KillAfter > 0 {
		timer := time.AfterFunc(f.KillAfter, func() {
			_, _ = r.Kill(pid)
		})
		defer timer.Stop()
	}

	sum, err := r.Wait(ctx, pid)
	if err != nil {
		// Interrupted: kill the process before teardown so nothing leaks.
		_, _ = r.Kill(pid)
		return err
	}
	printJSON(sum)

	if f.Tail > 0 {
		text, err := r.ReadLog(pid, f.Tail)
		if err != nil {
			return err
		}
		fmt.Println(text)
	}
	if f.JSON {
		v, err := r.ReadJSON(pid)
		if err != nil {
			return err
		}
		printJSON(v)
	}
	if sum.State == runner.StateFailed {
		return fmt.Errorf("command failed with exit code %d", *sum.ReturnCode)
	}
	return nil
}
