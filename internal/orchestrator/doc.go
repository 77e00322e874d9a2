// Package orchestrator drives a project specification through generation,
// review, execution and persistence.
//
// # Overview
//
// A run resolves a manifest once, then for each outer iteration:
//
//	interface → code → test → docs → run_script → review loop → execution loop
//
// and finally persists the assembled file set through a Store.
//
// # Key Components
//
// ## StageExecutor
//
// Runs one generation stage at a time, enforces stage dependencies
// (ErrMissingDependency) and writes every artifact to its manifest path.
//
// ## ReviewLoop
//
// Reviewing → Fixing → Reviewing until the ReviewJudge approves or the bound
// is reached (Exhausted). Code that is empty on entry is Skipped.
//
// ## ExecutionLoop
//
// Runs the implementation and its tests in the Sandbox once per outer
// iteration. A failing report triggers exactly one fix; the sandbox is not
// re-run until the next iteration.
//
// ## Artifact gates
//
// Advisory checks on generated artifacts (CompletenessGate, CodeShapeGate,
// InterfaceShapeGate, TestTargetGate). Violations are logged and returned in
// the RunResult but never stop a run.
//
// # Failure semantics
//
// An invalid specification fails New. Generator, working-tree and store
// errors abort Run with a *StageError and nothing is persisted. Manifest
// parse failures fall back to the default layout; review rejection and
// execution failure only degrade the result.
//
// # Usage Example
//
//	p, err := orchestrator.New(spec, client, sandbox.New(sbCfg, zl), store,
//	    orchestrator.DefaultConfig(),
//	    orchestrator.WithLogger(logger),
//	    orchestrator.WithTelemetry(tel),
//	)
//	if err != nil {
//	    return err
//	}
//	res, err := p.Run(ctx)
package orchestrator
