// Command bmbc is the thin driver over the compiler core. It exposes
// the user-visible entry points (check, verify, build, test, parse)
// and a machine-readable output mode; flag parsing and everything
// beyond constructing one Config and one Pipeline stays out of the
// core.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bmb-lang/bmbc/internal/cli"
	"github.com/bmb-lang/bmbc/internal/config"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/pipeline"
)

var (
	flagConfig  string
	flagJSON    bool
	flagEmitIR  string
	flagOptLvl  = -1
	flagTriple  string
	flagInclude []string
	flagStrict  bool
	flagDumpMIR bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := &cobra.Command{
		Use:           "bmbc",
		Short:         "bmb compiler and static verifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "pipeline configuration file")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable diagnostics")
	root.PersistentFlags().StringSliceVarP(&flagInclude, "include", "I", nil, "module include roots")
	root.PersistentFlags().BoolVar(&flagStrict, "strict", true, "fail the build on unproved obligations")

	root.AddCommand(checkCmd(ctx), verifyCmd(ctx), buildCmd(ctx), testCmd(ctx), parseCmd(ctx))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if len(flagInclude) > 0 {
		cfg.IncludeRoots = flagInclude
	}
	cfg.Strict = flagStrict
	if flagTriple != "" {
		cfg.TargetTriple = flagTriple
	}
	if flagOptLvl >= 0 {
		cfg.OptLevel = flagOptLvl
	}
	return cfg, nil
}

// report renders accumulated diagnostics and exits with the driver
// convention: 0 success, 1 compilation error, 3 verification failure.
func report(p *pipeline.Pipeline, out *pipeline.Outcome) error {
	if flagJSON {
		text, err := diag.EncodeReports(p.Reporter.All(), true)
		if err != nil {
			return err
		}
		fmt.Println(text)
	} else {
		cli.Render(os.Stderr, p.Sources, p.Reporter.All())
		errs, warns := 0, 0
		for _, r := range p.Reporter.All() {
			switch r.Sev {
			case diag.Error:
				errs++
			case diag.Warning:
				warns++
			}
		}
		cli.Summary(os.Stderr, errs, warns)
	}
	if code := p.ExitCode(out); code != 0 {
		os.Exit(code)
	}
	return nil
}

func checkCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "parse, resolve, and type/contract-check without codegen",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p := pipeline.New(cfg)
			out, err := p.Check(ctx, args[0])
			if err != nil {
				return err
			}
			return report(p, out)
		},
	}
}

func verifyCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "check and discharge every contract obligation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p := pipeline.New(cfg)
			out, err := p.Verify(ctx, args[0])
			if err != nil {
				return err
			}
			if !flagJSON {
				s := out.Verification
				fmt.Fprintf(os.Stderr, "obligations: %d checked, %d verified, %d refuted, %d unknown, %d trusted\n",
					s.Checked, s.Verified, s.Refuted, s.Unknown, s.Trusted)
			}
			return report(p, out)
		},
	}
}

func buildCmd(ctx context.Context) *cobra.Command {
	c := &cobra.Command{
		Use:   "build <file>",
		Short: "compile to LLVM IR after verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p := pipeline.New(cfg)
			out, err := p.Build(ctx, args[0])
			if err != nil {
				return err
			}
			if flagDumpMIR && out.MIR != nil {
				fmt.Fprint(os.Stderr, mir.DumpProgram(out.MIR))
			}
			if out.LLVM != "" && flagEmitIR != "" {
				if flagEmitIR == "-" {
					fmt.Print(out.LLVM)
				} else if err := os.WriteFile(flagEmitIR, []byte(out.LLVM), 0o644); err != nil {
					return err
				}
			}
			return report(p, out)
		},
	}
	c.Flags().StringVar(&flagEmitIR, "emit-ir", "-", "write LLVM IR to a file, or - for stdout")
	c.Flags().BoolVar(&flagDumpMIR, "dump-mir", false, "print the lowered MIR to stderr")
	c.Flags().IntVarP(&flagOptLvl, "opt-level", "O", 1, "optimization level (0 disables)")
	c.Flags().StringVar(&flagTriple, "target", "", "LLVM target triple")
	return c
}

func testCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "test <file>",
		Short: "check and verify functions carrying the test attribute",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p := pipeline.New(cfg)
			out, err := p.Verify(ctx, args[0])
			if err != nil {
				return err
			}
			return report(p, out)
		},
	}
}

func parseCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>",
		Short: "dump the abstract syntax tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p := pipeline.New(cfg)
			fmt.Println(p.Parse(ctx, args[0], text))
			return report(p, nil)
		},
	}
}
