// Command solve runs the route optimizer on a problem file and prints the
// result with savings as JSON.
//
//	solve -f problem.yaml [--budget 2s] [--pretty]
//
// Exit codes: 0 success, 1 invalid input, 2 no feasible solution, 3 backend
// unavailable or internal failure.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"omniroute/internal/buildinfo"
	"omniroute/internal/logging"
	"omniroute/internal/opt"
	"omniroute/internal/savings"
	"omniroute/internal/store"
)

const (
	exitOK = iota
	exitInvalid
	exitInfeasible
	exitFailure
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type output struct {
	Result    opt.SolverResult `json:"result"`
	InputHash string           `json:"input_hash"`
	Savings   *savings.Savings `json:"savings,omitempty"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("solve", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.StringP("file", "f", "", "problem file (.yaml, .yml or .json); - reads stdin")
	budget := fs.Duration("budget", 0, "search time limit; overrides the size-based default")
	iterations := fs.Int("iterations", 0, "guided local search round cap")
	mode := fs.String("mode", "", "solver type: classical, hybrid or quantum (overrides the file)")
	pretty := fs.Bool("pretty", false, "indent JSON output")
	verbose := fs.BoolP("verbose", "v", false, "log solver progress to stderr")
	version := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}
	if *version {
		fmt.Fprintln(stdout, buildinfo.String())
		return exitOK
	}
	if *file == "" {
		fmt.Fprintln(stderr, "solve: -f is required")
		fs.PrintDefaults()
		return exitInvalid
	}

	in, err := readProblem(*file, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "solve: %v\n", err)
		return exitInvalid
	}
	if *mode != "" {
		in.Mode = *mode
	}
	p, st, err := in.Problem()
	if err != nil {
		fmt.Fprintf(stderr, "solve: %v\n", err)
		return exitInvalid
	}

	log := zap.NewNop()
	if *verbose {
		if l, err := logging.New("development", "solve"); err == nil {
			log = l
		}
	}
	defer func() { _ = log.Sync() }()

	cfg := opt.SelectStrategyForMode(st, p)
	if *budget > 0 {
		cfg.TimeLimit = *budget
		if cfg.Strategy == opt.StrategyFirstSolution {
			cfg.Strategy = opt.StrategyGuidedLocalSearch
		}
	}
	cfg.IterationLimit = *iterations
	res, err := opt.NewSolver(cfg, opt.WithLogger(log)).Solve(p)
	if err != nil && res.ErrorKind == "" {
		fmt.Fprintf(stderr, "solve: %v\n", err)
		return exitCode(opt.KindOf(err))
	}

	out := output{Result: res, InputHash: store.Fingerprint(p.Stops)}
	if res.Success {
		sv := savings.Compare(p, res)
		out.Savings = &sv
	}
	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "solve: write output: %v\n", err)
		return exitFailure
	}
	if !res.Success {
		fmt.Fprintf(stderr, "solve: %s\n", res.Error)
	}
	return exitCode(res.ErrorKind)
}

func exitCode(kind opt.ErrorKind) int {
	switch kind {
	case "":
		return exitOK
	case opt.KindValidation:
		return exitInvalid
	case opt.KindInfeasible:
		return exitInfeasible
	}
	return exitFailure
}

// readProblem decodes YAML or JSON by extension. Stdin and unknown
// extensions go through the YAML decoder, which accepts JSON too.
func readProblem(path string, stdin io.Reader) (opt.ProblemInput, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return opt.ProblemInput{}, err
	}
	var in opt.ProblemInput
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &in)
	} else {
		err = yaml.Unmarshal(data, &in)
	}
	if err != nil {
		return opt.ProblemInput{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(in.Stops) == 0 {
		return opt.ProblemInput{}, errors.New("problem has no stops")
	}
	return in, nil
}
