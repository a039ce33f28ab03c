// Package pipeline wires the stages into the dependency-ordered
// sequence: source and lexing feed the parser, the resolver links
// modules, the checker elaborates, lowering produces MIR, the
// optimizer transforms it, the verifier discharges obligations, and
// the emitter renders LLVM IR. Codegen and full verification refuse to
// run once any error-level diagnostic has accumulated upstream.
package pipeline

import (
	"context"

	"github.com/bmb-lang/bmbc/internal/check"
	"github.com/bmb-lang/bmbc/internal/codegen/llvmir"
	"github.com/bmb-lang/bmbc/internal/config"
	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/mir"
	"github.com/bmb-lang/bmbc/internal/optimize"
	"github.com/bmb-lang/bmbc/internal/parser"
	"github.com/bmb-lang/bmbc/internal/resolve"
	"github.com/bmb-lang/bmbc/internal/source"
	"github.com/bmb-lang/bmbc/internal/typedast"
	"github.com/bmb-lang/bmbc/internal/verify"
)

// Pipeline is one compilation of a translation unit: a straight-line,
// single-threaded computation. The reporter is the only append-only
// mutable resource shared across stages.
type Pipeline struct {
	cfg      *config.Config
	Sources  *source.Map
	Reporter *diag.Reporter
}

// New constructs a pipeline from the driver-supplied configuration.
func New(cfg *config.Config) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		Sources:  source.NewMap(),
		Reporter: diag.NewReporter(),
	}
}

// Outcome is the result of a pipeline run.
type Outcome struct {
	Program *resolve.Program
	Typed   *typedast.Program
	MIR     *mir.Program
	LLVM    string
	// Verification summarizes solver verdicts when the verify stage ran.
	Verification verify.Summary
	// VerificationFailed is set when unproved obligations gate the
	// build under the configured mode.
	VerificationFailed bool
}

// ExitCode implements the driver convention: 0 success, 1 compilation
// error, 3 verification failure.
func (p *Pipeline) ExitCode(out *Outcome) int {
	return p.Reporter.ExitCode(out != nil && out.VerificationFailed)
}

// Check loads, links, and elaborates, accumulating
// diagnostics without generating code.
func (p *Pipeline) Check(ctx context.Context, rootPath string) (*Outcome, error) {
	r := resolve.New(p.cfg.IncludeRoots, p.cfg.HyphenToUnderscore, p.Sources, p.Reporter)
	prog, err := r.LoadRoot(rootPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	typed := check.Check(prog, p.Reporter)
	return &Outcome{Program: prog, Typed: typed}, nil
}

// CheckSource is Check over in-memory text (tests, stdin).
func (p *Pipeline) CheckSource(ctx context.Context, name string, text []byte) *Outcome {
	r := resolve.New(p.cfg.IncludeRoots, p.cfg.HyphenToUnderscore, p.Sources, p.Reporter)
	prog := r.LoadRootSource(name, text)
	typed := check.Check(prog, p.Reporter)
	return &Outcome{Program: prog, Typed: typed}
}

// Verify runs Check plus lowering and full verification.
func (p *Pipeline) Verify(ctx context.Context, rootPath string) (*Outcome, error) {
	out, err := p.Check(ctx, rootPath)
	if err != nil {
		return nil, err
	}
	p.verifyStage(ctx, out)
	return out, nil
}

// Build runs the full pipeline to LLVM IR. Codegen refuses to run when
// any error-level diagnostic was accumulated upstream.
func (p *Pipeline) Build(ctx context.Context, rootPath string) (*Outcome, error) {
	out, err := p.Check(ctx, rootPath)
	if err != nil {
		return nil, err
	}
	p.BuildFrom(ctx, out)
	return out, nil
}

// BuildFrom finishes a build over an already-checked outcome.
func (p *Pipeline) BuildFrom(ctx context.Context, out *Outcome) {
	if p.Reporter.HasErrors() {
		return
	}
	p.verifyStage(ctx, out)
	if p.Reporter.HasErrors() {
		return
	}
	if out.VerificationFailed && p.cfg.Strict {
		return
	}
	if err := ctx.Err(); err != nil {
		return
	}
	emitter := llvmir.New(p.Reporter, out.Typed, p.cfg.TargetTriple)
	out.LLVM = emitter.Emit(out.MIR)
}

// verifyStage lowers to MIR, optimizes with the verifier as the check
// oracle, and discharges every obligation. Verification refuses to run
// past upstream errors.
func (p *Pipeline) verifyStage(ctx context.Context, out *Outcome) {
	if p.Reporter.HasErrors() || out.Typed == nil {
		return
	}
	out.MIR = mir.Lower(out.Typed, p.Reporter)
	if p.Reporter.HasErrors() {
		return
	}

	solver := verify.NewSolver(p.cfg.Solver.Command, p.cfg.Solver.Args, p.cfg.Solver.Timeout())
	mode := verify.Warnings
	if p.cfg.Strict {
		mode = verify.Strict
	}
	v := verify.New(out.Typed, solver, p.Reporter, mode)
	v.UnknownIsError = p.cfg.UnknownIsError

	if p.cfg.OptLevel > 0 {
		opt := optimize.New(v.NewOracle(ctx))
		opt.Run(out.MIR)
	}

	out.Verification = v.Run(ctx, out.MIR)
	out.VerificationFailed = out.Verification.Failed(mode, p.cfg.UnknownIsError)
}

// Parse lexes and parses only, returning the root file's AST dump.
func (p *Pipeline) Parse(_ context.Context, name string, text []byte) string {
	unit := p.Sources.Add(source.ID(name), text)
	pr := parser.New(unit)
	f := pr.ParseFile()
	for _, e := range pr.Errors() {
		p.Reporter.Add(e)
	}
	return f.String()
}
