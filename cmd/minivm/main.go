// Package main provides the CLI entry point for minivm.
//
// Usage:
//
//	minivm program.mvb               # Execute a bytecode image
//	minivm exec program.mvb          # Same as above
//	minivm run program.masm          # Assemble and execute
//	minivm compile program.masm      # Assemble to bytecode (.mvb)
//	minivm disasm program.mvb        # Disassemble bytecode
//	minivm digest program.mvb        # Print the image fingerprint
//	minivm trace show run.parquet    # Print an exported trace
//	minivm core core.cbor            # Inspect a core dump
//	minivm repl                      # Interactive session
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/akhildatla/minivm/internal/config"
	"github.com/akhildatla/minivm/internal/log"
	"github.com/akhildatla/minivm/pkg/coredump"
	"github.com/akhildatla/minivm/pkg/fingerprint"
	"github.com/akhildatla/minivm/pkg/trace"
	"github.com/akhildatla/minivm/pkg/vm"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var errUsage = errors.New("usage: minivm <bytecode>")

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the resolved configuration and the process streams.
type cli struct {
	in  io.Reader
	out io.Writer

	configPath string
	cfg        *config.Config

	// Flag values; they override the configuration file when set.
	logLevel   string
	logModules string
	maxSteps   int64
	strict     bool
	timeout    time.Duration
	traceOut   string
	traceLimit int
	corePath   string
	digestArgv []string
	digestWait time.Duration
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	c := &cli{in: in, out: out}

	rootCmd := &cobra.Command{
		Use:           "minivm [bytecode]",
		Short:         "minivm - a register virtual machine with a fingerprint gate",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errUsage
			}
			return c.execImage(cmd.Context(), args[0])
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "configuration file (default: nearest "+config.FileName+")")
	flags.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&c.logModules, "debug", "", "debug modules to enable (vm,fingerprint,trace,cli,repl)")
	flags.Int64Var(&c.maxSteps, "max-steps", 0, "stop after this many instructions (0 = unlimited)")
	flags.BoolVar(&c.strict, "strict", false, "fail on unimplemented opcodes")
	flags.DurationVar(&c.timeout, "timeout", 0, "stop the run after this duration (0 = none)")
	flags.StringVar(&c.traceOut, "trace", "", "write an execution trace (.csv, .jsonl, .parquet)")
	flags.IntVar(&c.traceLimit, "trace-limit", 0, "keep only the last n trace rows (0 = all)")
	flags.StringVar(&c.corePath, "core", "", "write a core dump here when a run faults")
	flags.StringSliceVar(&c.digestArgv, "digest-cmd", nil, "external digest command, e.g. md5sum")
	flags.DurationVar(&c.digestWait, "digest-timeout", 0, "kill the digest command after this duration (0 = none)")

	rootCmd.AddCommand(
		c.execCmd(),
		c.runCmd(),
		c.compileCmd(),
		c.disasmCmd(),
		c.digestCmd(),
		c.replCmd(),
		c.traceCmd(),
		c.coreCmd(),
		versionCmd(out),
	)
	return rootCmd
}

// setup loads the configuration, applies flag overrides and starts logging.
func (c *cli) setup(cmd *cobra.Command) error {
	var err error
	if c.configPath != "" {
		c.cfg, err = config.Load(c.configPath)
	} else {
		c.cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.cfg.Log.Level = c.logLevel
	}
	if flags.Changed("debug") {
		c.cfg.Log.Modules = c.logModules
	}
	if flags.Changed("max-steps") {
		c.cfg.VM.MaxSteps = c.maxSteps
	}
	if flags.Changed("strict") {
		c.cfg.VM.StrictOpcodes = c.strict
	}
	if flags.Changed("timeout") {
		c.cfg.VM.Timeout = c.timeout
	}
	if flags.Changed("trace") {
		c.cfg.Trace.Output = c.traceOut
	}
	if flags.Changed("trace-limit") {
		c.cfg.Trace.Limit = c.traceLimit
	}
	if flags.Changed("core") {
		c.cfg.Coredump.Path = c.corePath
	}
	if flags.Changed("digest-cmd") {
		c.cfg.Fingerprint.Command = c.digestArgv
	}
	if flags.Changed("digest-timeout") {
		c.cfg.Fingerprint.Timeout = c.digestWait
	}

	if err := log.InitLogger(c.cfg.Log.Level); err != nil {
		return err
	}
	if c.cfg.Log.Modules != "" {
		log.EnableModules(c.cfg.Log.Modules)
	}
	log.Debug(log.CLI, "configuration", "path", c.cfg.Path, "max_steps", c.cfg.VM.MaxSteps, "strict", c.cfg.VM.StrictOpcodes)
	return nil
}

// gate builds the fingerprint gate the configuration asks for.
func (c *cli) gate() *fingerprint.Gate {
	if len(c.cfg.Fingerprint.Command) > 0 {
		return fingerprint.NewGate(fingerprint.WithDigester(fingerprint.CommandDigester{
			Argv:    c.cfg.Fingerprint.Command,
			Timeout: c.cfg.Fingerprint.Timeout,
		}))
	}
	return fingerprint.NewGate()
}

// runProgram executes program on the process streams. The trace is written
// whatever the outcome; a core dump only when the run fails.
func (c *cli) runProgram(ctx context.Context, program *vm.Program, identity fingerprint.Identity) error {
	opts := []vm.Option{
		vm.WithIdentity(identity),
		vm.WithInput(c.in),
		vm.WithOutput(c.out),
		vm.WithMaxSteps(c.cfg.VM.MaxSteps),
		vm.WithStrictOpcodes(c.cfg.VM.StrictOpcodes),
	}

	var rec *trace.Recorder
	if c.cfg.Trace.Output != "" {
		rec = trace.NewRecorder(c.cfg.Trace.Limit)
		opts = append(opts, vm.WithTracer(rec))
	}

	machine := vm.New(opts...)
	if err := machine.Load(program); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if c.cfg.VM.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.VM.Timeout)
		defer cancel()
	}

	result, runErr := machine.Run(ctx)
	log.Debug(log.CLI, "run finished", "halted", result.Halted, "steps", result.Steps, "pc", result.PC)

	if rec != nil {
		if err := rec.WriteFile(context.Background(), c.cfg.Trace.Output); err != nil {
			log.Warn(log.CLI, "trace not written", "err", err)
		}
	}

	if runErr != nil && c.cfg.Coredump.Path != "" {
		if err := coredump.Write(c.cfg.Coredump.Path, coredump.Capture(machine, program, runErr)); err != nil {
			log.Warn(log.CLI, "core dump not written", "err", err)
		} else {
			log.Info(log.CLI, "core dumped", "path", c.cfg.Coredump.Path)
		}
	}

	return runErr
}

func versionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "minivm version %s\n", version)
			if commit != "none" {
				fmt.Fprintf(out, "  commit: %s\n", commit)
			}
			if date != "unknown" {
				fmt.Fprintf(out, "  built:  %s\n", date)
			}
		},
	}
}
