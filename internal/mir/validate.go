package mir

import "fmt"

// Validate enforces the structural MIR invariants: no local defined
// more than once, every local used by an instruction or terminator
// defined somewhere in the function, and every branch target an
// existing block; closures are validated recursively. Neither
// dominance of uses nor block reachability is checked. A violation is
// an internal codegen invariant error, fatal for the unit.
func Validate(fn *Function) error {
	defined := map[LocalID]int{}
	for _, p := range fn.Params {
		defined[p]++
	}
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Dst != NoLocal {
				defined[in.Dst]++
			}
		}
	}
	for id, n := range defined {
		if n > 1 {
			return fmt.Errorf("%s: local %%%d defined %d times", fn.Symbol, id, n)
		}
	}

	// Every use of a local must have a definition somewhere in the
	// function; whether that definition dominates the use is not
	// checked.
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			for _, a := range in.Args {
				if !a.IsConst && a.Local != NoLocal && defined[a.Local] == 0 {
					return fmt.Errorf("%s: block b%d uses undefined local %%%d", fn.Symbol, b.ID, a.Local)
				}
			}
		}
		var termOps []Operand
		switch b.Term.Kind {
		case TermReturn:
			termOps = append(termOps, b.Term.Value)
		case TermBranch, TermSwitch:
			termOps = append(termOps, b.Term.Cond)
		}
		for _, op := range termOps {
			if !op.IsConst && op.Local != NoLocal && defined[op.Local] == 0 {
				return fmt.Errorf("%s: block b%d terminator uses undefined local %%%d", fn.Symbol, b.ID, op.Local)
			}
		}
		for _, succ := range b.Term.Successors() {
			if fn.Block(succ) == nil {
				return fmt.Errorf("%s: block b%d targets missing block b%d", fn.Symbol, b.ID, succ)
			}
		}
	}

	for _, c := range fn.Closures {
		if err := Validate(c); err != nil {
			return err
		}
	}
	return nil
}

// Reachable computes the block set reachable from the entry.
func Reachable(fn *Function) map[BlockID]bool {
	seen := map[BlockID]bool{}
	stack := []BlockID{fn.Entry}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		if b := fn.Block(id); b != nil {
			stack = append(stack, b.Term.Successors()...)
		}
	}
	return seen
}
