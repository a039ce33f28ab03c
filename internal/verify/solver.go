package verify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bmb-lang/bmbc/internal/schema"
)

// Verdict is the solver's interpretation of one obligation.
type Verdict int

const (
	Verified Verdict = iota // unsat: the negated implication has no model
	Refuted                 // sat: a counterexample exists
	Unknown                 // timeout or solver incompleteness
)

func (v Verdict) String() string {
	switch v {
	case Verified:
		return "verified"
	case Refuted:
		return "refuted"
	default:
		return "unknown"
	}
}

// Result pairs a verdict with the parsed counterexample model, present
// only when refuted.
type Result struct {
	Verdict Verdict
	Model   map[string]string
}

// Solver invokes the external SMT process: one-shot per query, query
// text on stdin, reply on stdout, per-query timeout.
type Solver struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// NewSolver builds a solver handle; an empty command disables solving
// (every query reports Unknown).
func NewSolver(command string, args []string, timeout time.Duration) *Solver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Solver{Command: command, Args: args, Timeout: timeout}
}

// Query renders an obligation to SMT-LIB2 text. The header comments
// carry the dump-format version and the obligation's stable id.
func (o *Obligation) Query() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; schema: %s\n", schema.ObligationV1)
	fmt.Fprintf(&sb, "; sid: %s\n", o.ID)
	fmt.Fprintf(&sb, "; %s %s\n", o.Kind, o.Func)
	logic := "QF_LIA"
	if o.Nonlinear {
		logic = "QF_NIA"
	}
	fmt.Fprintf(&sb, "(set-logic %s)\n", logic)
	sb.WriteString("(set-option :produce-models true)\n")
	o.Decls.render(&sb)
	for _, a := range o.Assumptions {
		fmt.Fprintf(&sb, "(assert %s)\n", a)
	}
	fmt.Fprintf(&sb, "(assert (not %s))\n", o.Goal)
	sb.WriteString("(check-sat)\n")
	sb.WriteString("(get-model)\n")
	return sb.String()
}

// Check runs one obligation through the solver.
func (s *Solver) Check(ctx context.Context, o *Obligation) Result {
	if s == nil || s.Command == "" {
		return Result{Verdict: Unknown}
	}
	cctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.Command, s.Args...)
	cmd.Stdin = strings.NewReader(o.Query())
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil && cctx.Err() != nil {
		return Result{Verdict: Unknown} // timeout is unknown, not an error
	}
	return parseReply(out.String())
}

// parseReply interprets the solver's stdout: the first status line
// decides the verdict; a sat reply is followed by the model.
func parseReply(reply string) Result {
	lines := strings.Split(reply, "\n")
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case "unsat":
			return Result{Verdict: Verified}
		case "sat":
			return Result{Verdict: Refuted, Model: parseModel(lines[i+1:])}
		case "unknown":
			return Result{Verdict: Unknown}
		}
	}
	return Result{Verdict: Unknown}
}

// parseModel extracts (define-fun name () Sort value) bindings from a
// get-model reply.
func parseModel(lines []string) map[string]string {
	model := map[string]string{}
	text := strings.Join(lines, " ")
	for {
		idx := strings.Index(text, "(define-fun ")
		if idx < 0 {
			break
		}
		text = text[idx+len("(define-fun "):]
		fields := strings.Fields(text)
		if len(fields) < 4 {
			break
		}
		name := fields[0]
		// Skip "() Sort", the remainder up to the closing paren is the
		// value, possibly itself parenthesized (negatives).
		rest := strings.Join(fields[3:], " ")
		val, remaining := readValue(rest)
		model[name] = val
		text = remaining
	}
	return model
}

func readValue(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if s[0] == '(' {
		depth := 0
		for i := 0; i < len(s); i++ {
			switch s[i] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return normalizeValue(s[:i+1]), s[i+1:]
				}
			}
		}
		return normalizeValue(s), ""
	}
	end := strings.IndexAny(s, ") ")
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}

// normalizeValue renders solver value sexprs like "(- 1)" as "-1".
func normalizeValue(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "(-") && strings.HasSuffix(v, ")") {
		inner := strings.TrimSpace(v[2 : len(v)-1])
		return "-" + inner
	}
	return v
}
