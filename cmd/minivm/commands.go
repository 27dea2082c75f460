package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/akhildatla/minivm/internal/log"
	"github.com/akhildatla/minivm/pkg/compiler"
	"github.com/akhildatla/minivm/pkg/coredump"
	"github.com/akhildatla/minivm/pkg/fingerprint"
	"github.com/akhildatla/minivm/pkg/loader"
	"github.com/akhildatla/minivm/pkg/optimizer"
	"github.com/akhildatla/minivm/pkg/repl"
	"github.com/akhildatla/minivm/pkg/trace"
	"github.com/akhildatla/minivm/pkg/vm"
)

// ImageExt is the extension compile gives bytecode images.
const ImageExt = ".mvb"

func (c *cli) execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <bytecode>",
		Short: "Execute a bytecode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execImage(cmd.Context(), args[0])
		},
	}
}

// execImage fingerprints and runs the image at path. Nothing executes when
// the image cannot be read or digested.
func (c *cli) execImage(ctx context.Context, path string) error {
	img, err := loader.LoadImage(path)
	if err != nil {
		return err
	}

	identity, err := c.identify(img)
	if err != nil {
		return err
	}
	log.Debug(log.Fingerprint, "image identified", "path", path, "digest", identity.Digest, "trusted", identity.Trusted)

	return c.runProgram(ctx, img.Program, identity)
}

// identify fingerprints a loaded image. Without an external command the
// bytes already read are digested, so the file is read only once.
func (c *cli) identify(img *loader.Image) (fingerprint.Identity, error) {
	if len(c.cfg.Fingerprint.Command) == 0 {
		return c.gate().IdentifyBytes(img.Data), nil
	}
	return c.gate().Identify(img.Path)
}

func (c *cli) runCmd() *cobra.Command {
	var optimize bool

	cmd := &cobra.Command{
		Use:   "run <file.masm>",
		Short: "Assemble and execute a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := compileFile(args[0], false)
			if err != nil {
				return err
			}

			// The fingerprint is taken of the unoptimized image, the one
			// compile would write.
			identity := c.gate().IdentifyBytes(vm.EncodeImage(program))
			if optimize {
				program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
			}
			return c.runProgram(cmd.Context(), program, identity)
		},
	}
	cmd.Flags().BoolVarP(&optimize, "optimize", "O", false, "run the optimizer before executing")
	return cmd
}

func compileFile(path string, optimize bool) (*vm.Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}

	program, err := compiler.Compile(string(source))
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", path, err)
	}

	if optimize {
		program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
	}
	return program, nil
}

func (c *cli) compileCmd() *cobra.Command {
	var (
		output   string
		optimize bool
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "compile <file.masm>",
		Short: "Assemble a source file to a bytecode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			outputPath := output
			if outputPath == "" {
				// Replace extension with .mvb
				ext := filepath.Ext(inputPath)
				outputPath = strings.TrimSuffix(inputPath, ext) + ImageExt
			}

			program, err := compileFile(inputPath, optimize)
			if err != nil {
				return err
			}

			if err := loader.WriteImage(outputPath, program); err != nil {
				return err
			}

			if verbose {
				fmt.Fprintf(c.out, "Compiled %d instructions\n", len(program.Code))
				fmt.Fprintf(c.out, "Output: %s (%d bytes)\n", outputPath, len(program.Code)*vm.InstructionSize)
			} else {
				fmt.Fprintf(c.out, "Compiled: %s\n", outputPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: input with "+ImageExt+" extension)")
	cmd.Flags().BoolVarP(&optimize, "optimize", "O", false, "enable optimizations (constant folding, branch folding, jump threading)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	return cmd
}

func (c *cli) disasmCmd() *cobra.Command {
	var (
		output       string
		reachability bool
	)

	cmd := &cobra.Command{
		Use:   "disasm <bytecode>",
		Short: "Disassemble a bytecode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loader.LoadImage(args[0])
			if err != nil {
				return err
			}

			var asm string
			if reachability {
				asm = vm.DisassembleAnnotated(img.Program, optimizer.Reachable(img.Program))
				asm += fmt.Sprintf("; %d unreachable\n", optimizer.Unreachable(img.Program))
			} else {
				asm = vm.Disassemble(img.Program)
			}

			if output != "" {
				if err := os.WriteFile(output, []byte(asm), 0644); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
				fmt.Fprintf(c.out, "Disassembled to: %s\n", output)
				return nil
			}
			fmt.Fprint(c.out, asm)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&reachability, "reachability", false, "mark instructions no execution can reach")
	return cmd
}

func (c *cli) digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <file>",
		Short: "Print the fingerprint of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := c.gate().Identify(args[0])
			if err != nil {
				return err
			}
			status := "untrusted"
			if identity.Trusted {
				status = "trusted"
			}
			fmt.Fprintf(c.out, "%s  %s  %s\n", identity.Digest, status, args[0])
			return nil
		},
	}
}

func (c *cli) replCmd() *cobra.Command {
	var history string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive assembly session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []repl.Option{repl.WithGate(c.gate())}
			if c.cfg.VM.MaxSteps > 0 {
				opts = append(opts, repl.WithMaxSteps(c.cfg.VM.MaxSteps))
			}
			r := repl.New(opts...)

			if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return r.StartInteractive(history)
			}
			r.Start(c.in, c.out)
			return nil
		},
	}
	cmd.Flags().StringVar(&history, "history", "", "history file for interactive sessions")
	return cmd
}

func (c *cli) traceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect and convert execution traces",
	}

	var rows int
	show := &cobra.Command{
		Use:   "show <trace>",
		Short: "Print a trace as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			df, err := loader.LoadTrace(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var opts []dataframe.TableOptions
			if rows > 0 && rows < df.NRows() {
				end := rows - 1
				opts = append(opts, dataframe.TableOptions{R: &dataframe.Range{End: &end}})
			}
			fmt.Fprint(c.out, df.Table(opts...))
			return nil
		},
	}
	show.Flags().IntVarP(&rows, "rows", "n", 0, "print at most n rows (0 = all)")

	convert := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a trace between CSV, JSON lines and Parquet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := loader.LoadTraceRows(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := trace.WriteFile(cmd.Context(), args[1], trace.ToDataFrame(rows)); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Converted %d rows: %s\n", len(rows), args[1])
			return nil
		},
	}

	cmd.AddCommand(show, convert)
	return cmd
}

func (c *cli) coreCmd() *cobra.Command {
	var disasm bool

	cmd := &cobra.Command{
		Use:   "core <dump>",
		Short: "Inspect a core dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := coredump.Read(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "pc:     %d\n", s.PC)
			fmt.Fprintf(c.out, "steps:  %d\n", s.Steps)
			if s.Fault != "" {
				fmt.Fprintf(c.out, "fault:  %s\n", s.Fault)
			}
			if s.Digest != "" {
				fmt.Fprintf(c.out, "digest: %s\n", s.Digest)
			}

			fmt.Fprintln(c.out, "registers:")
			for i, v := range s.Registers {
				if v != 0 {
					fmt.Fprintf(c.out, "  r%-3d = %d (0x%08x)\n", i, v, v)
				}
			}

			used := s.UsedMemory()
			fmt.Fprintf(c.out, "memory: %d bytes in use\n", len(used))
			for off := 0; off < len(used); off += 16 {
				end := off + 16
				if end > len(used) {
					end = len(used)
				}
				fmt.Fprintf(c.out, "  %04x: % x\n", off, used[off:end])
			}

			if disasm {
				if program := s.Program(); program != nil {
					fmt.Fprint(c.out, vm.Disassemble(program))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&disasm, "disasm", false, "disassemble the captured program")
	return cmd
}
