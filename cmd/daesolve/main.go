package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/daesolve/internal/config"
	"github.com/san-kum/daesolve/internal/models"
	"github.com/san-kum/daesolve/internal/registry"
	"github.com/san-kum/daesolve/internal/sim"
	"github.com/san-kum/daesolve/internal/storage"
	"github.com/san-kum/daesolve/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	duration   float64
	outputs    int
	reltol     float64
	abstol     float64
	suppress   bool
	linear     string
	krylovDim  int
	precond    bool
	params     []string
	live       bool
	save       bool
	exportPath string
	// sweep
	sweepParam string
	sweepFrom  float64
	sweepTo    float64
	sweepCount int
	// bench
	benchReps int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "daesolve",
		Short: "implicit DAE integration lab",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".daesolve", "data directory")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "integrate a model forward",
		Args:  cobra.ExactArgs(1),
		RunE:  runModel,
	}
	addSolverFlags(runCmd)
	runCmd.Flags().BoolVar(&live, "live", false, "live terminal view")
	runCmd.Flags().BoolVar(&save, "save", false, "save run to data directory")
	runCmd.Flags().StringVar(&exportPath, "export", "", "export trajectory to JSON file")

	adjointCmd := &cobra.Command{
		Use:   "adjoint [model]",
		Short: "integrate forward, then sweep the adjoint backward",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdjoint,
	}
	addSolverFlags(adjointCmd)
	adjointCmd.Flags().StringVar(&exportPath, "export", "", "export result to JSON file")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list available models",
		RunE:  listModels,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "print run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "run a parameter sweep",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	addSolverFlags(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepParam, "sweep-param", "", "parameter to sweep")
	sweepCmd.Flags().Float64Var(&sweepFrom, "from", 0, "sweep start value")
	sweepCmd.Flags().Float64Var(&sweepTo, "to", 1, "sweep end value")
	sweepCmd.Flags().IntVar(&sweepCount, "count", 5, "number of sweep points")

	benchCmd := &cobra.Command{
		Use:   "bench [model]",
		Short: "benchmark a model",
		Args:  cobra.ExactArgs(1),
		RunE:  benchModel,
	}
	addSolverFlags(benchCmd)
	benchCmd.Flags().IntVar(&benchReps, "reps", 5, "repetitions")

	rootCmd.AddCommand(runCmd, adjointCmd, modelsCmd, listCmd, plotCmd, exportCmd, sweepCmd, benchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addSolverFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Float64Var(&duration, "time", 0, "integration horizon (overrides model default)")
	cmd.Flags().IntVar(&outputs, "outputs", 0, "output grid points")
	cmd.Flags().Float64Var(&reltol, "reltol", 0, "relative tolerance")
	cmd.Flags().Float64Var(&abstol, "abstol", 0, "absolute tolerance")
	cmd.Flags().BoolVar(&suppress, "suppress-alg", false, "exclude algebraic variables from error control")
	cmd.Flags().StringVar(&linear, "linear", "", "linear solver (direct, gmres, bcgstab, tfqmr)")
	cmd.Flags().IntVar(&krylovDim, "krylov-dim", config.DefaultMaxKrylov, "krylov subspace dimension")
	cmd.Flags().BoolVar(&precond, "precond", false, "use the model Jacobian as preconditioner")
	cmd.Flags().StringArrayVar(&params, "param", nil, "model parameter override (name=value)")
}

// resolveConfig merges config file, preset and command-line overrides,
// in that order of increasing precedence.
func resolveConfig(cmd *cobra.Command, model string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if preset != "" {
		if p := config.GetPreset(model, preset); p != nil {
			cfg = p
		} else {
			return nil, fmt.Errorf("unknown preset %q for model %q", preset, model)
		}
	}
	cfg.Model = model
	if cmd.Flags().Changed("time") {
		cfg.Duration = duration
	}
	if cmd.Flags().Changed("outputs") {
		cfg.Outputs = outputs
	}
	if cmd.Flags().Changed("reltol") {
		cfg.Solver.RelTol = reltol
	}
	if cmd.Flags().Changed("abstol") {
		cfg.Solver.AbsTol = abstol
	}
	if cmd.Flags().Changed("suppress-alg") {
		cfg.Solver.SuppressAlgebraic = suppress
	}
	if cmd.Flags().Changed("linear") {
		cfg.Solver.LinearSolver = linear
	}
	if cmd.Flags().Changed("krylov-dim") {
		cfg.Solver.MaxKrylov = krylovDim
	}
	if cmd.Flags().Changed("precond") {
		cfg.Solver.UsePreconditioner = precond
	}
	if cfg.Outputs < 1 {
		cfg.Outputs = config.DefaultOutputCount
	}
	return cfg, nil
}

func parseParams() (map[string]float64, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(params))
	for _, p := range params {
		name, val, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("bad --param %q, want name=value", p)
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("bad --param %q: %w", p, err)
		}
		out[name] = v
	}
	return out, nil
}

func buildProblem(cmd *cobra.Command, model string) (*models.Problem, *config.Config, error) {
	cfg, err := resolveConfig(cmd, model)
	if err != nil {
		return nil, nil, err
	}
	overrides, err := parseParams()
	if err != nil {
		return nil, nil, err
	}
	reg := registry.NewRegistry()
	problem, err := reg.GetModelWith(model, overrides)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Duration > 0 {
		problem.TF = problem.T0 + cfg.Duration
	}
	return problem, cfg, nil
}

func runModel(cmd *cobra.Command, args []string) error {
	problem, cfg, err := buildProblem(cmd, args[0])
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	runner, err := sim.New(problem, opts, cfg.Outputs)
	if err != nil {
		return err
	}

	if live {
		return runLive(problem, runner)
	}

	fmt.Printf("integrating %s over [%g, %g]...\n", problem.Name, problem.T0, problem.TF)
	start := time.Now()
	result, err := runner.Run(context.Background())
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("completed in %v\n", elapsed)
	printStats(result)

	if save {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(problem.Name, problem.T0, problem.TF, opts.RelTol, opts.AbsTol, result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}
	if exportPath != "" {
		if err := storage.ExportJSON(exportPath, problem.Name, problem.T0, problem.TF, result, nil); err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", exportPath)
	}
	return nil
}

func runLive(problem *models.Problem, runner *sim.Runner) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	samples := make(chan tui.Sample, 64)
	runner.AddObserver(func(t float64, x, z, q []float64) bool {
		s := tui.Sample{T: t, X: append([]float64(nil), x...), Q: append([]float64(nil), q...)}
		select {
		case samples <- s:
			return true
		case <-ctx.Done():
			return false
		}
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx)
		errCh <- err
		close(samples)
	}()

	p := tea.NewProgram(tui.NewLive(problem.Name, problem.T0, problem.TF, samples))
	if _, err := p.Run(); err != nil {
		cancel()
		<-errCh
		return err
	}
	cancel()
	if err := <-errCh; err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runAdjoint(cmd *cobra.Command, args []string) error {
	problem, cfg, err := buildProblem(cmd, args[0])
	if err != nil {
		return err
	}
	if !problem.HasBackward() {
		return fmt.Errorf("model %s defines no adjoint", problem.Name)
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	runner, err := sim.New(problem, opts, cfg.Outputs)
	if err != nil {
		return err
	}

	fmt.Printf("forward-backward sweep of %s over [%g, %g]...\n", problem.Name, problem.T0, problem.TF)
	start := time.Now()
	fwd, adj, err := runner.RunAdjoint(context.Background())
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("forward steps: %d  checkpoints: %d\n", fwd.Stats.Steps, fwd.Checkpoints)
	fmt.Printf("backward steps: %d\n", adj.Stats.Steps)
	if len(fwd.Q) > 0 {
		for i, q := range fwd.Q[len(fwd.Q)-1] {
			fmt.Printf("q%d = %.10g\n", i, q)
		}
	}
	for i, g := range adj.RQ {
		fmt.Printf("grad p%d = %.10g\n", i, g)
	}

	if exportPath != "" {
		if err := storage.ExportJSON(exportPath, problem.Name, problem.T0, problem.TF, fwd, adj); err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", exportPath)
	}
	return nil
}

func listModels(cmd *cobra.Command, args []string) error {
	reg := registry.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tNX\tNZ\tNQ\tADJOINT\tDESCRIPTION")
	for _, name := range reg.ListModels() {
		p, err := reg.GetModel(name)
		if err != nil {
			return err
		}
		adjoint := "-"
		if p.HasBackward() {
			adjoint = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
			p.Name, p.Dims.NX, p.Dims.NZ, p.Dims.NQ, adjoint, p.Desc)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, name := range reg.ListModels() {
		if presets := config.ListPresets(name); len(presets) > 0 {
			fmt.Printf("presets for %s: %s\n", name, strings.Join(presets, ", "))
		}
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tHORIZON\tSTEPS\tRES EVALS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t[%g, %g]\t%d\t%d\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.T0, run.TF,
			run.Steps,
			run.ResEvals,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	cols, rows, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(rows))

	maxPlots := 6
	numVars := len(cols) - 1
	if numVars > maxPlots {
		numVars = maxPlots
	}
	for v := 0; v < numVars; v++ {
		data := make([]float64, len(rows))
		for i := range rows {
			data[i] = rows[i][v+1]
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs time", cols[v+1])),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func runSweep(cmd *cobra.Command, args []string) error {
	model := args[0]
	if sweepParam == "" {
		return fmt.Errorf("--sweep-param is required")
	}
	if sweepCount < 2 {
		return fmt.Errorf("--count must be at least 2")
	}
	_, cfg, err := buildProblem(cmd, model)
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	overrides, err := parseParams()
	if err != nil {
		return err
	}

	reg := registry.NewRegistry()
	values := make([]float64, sweepCount)
	for i := range values {
		values[i] = sweepFrom + float64(i)*(sweepTo-sweepFrom)/float64(sweepCount-1)
	}
	sweep := sim.NewSweep(sweepCount, func(i int) *models.Problem {
		p := make(map[string]float64, len(overrides)+1)
		for k, v := range overrides {
			p[k] = v
		}
		p[sweepParam] = values[i]
		problem, err := reg.GetModelWith(model, p)
		if err != nil {
			panic(err)
		}
		if cfg.Duration > 0 {
			problem.TF = problem.T0 + cfg.Duration
		}
		return problem
	}, opts, cfg.Outputs)

	// Validate the parameter name before launching the runs.
	if _, err := reg.GetModelWith(model, map[string]float64{sweepParam: values[0]}); err != nil {
		return err
	}

	fmt.Printf("sweeping %s.%s over [%g, %g] with %d runs...\n",
		model, sweepParam, sweepFrom, sweepTo, sweepCount)
	start := time.Now()
	results, err := sweep.Run(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n\n", time.Since(start))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VALUE\tSTEPS\tFINAL STATE")
	for i, res := range results {
		final := res.X[len(res.X)-1]
		parts := make([]string, len(final))
		for j, v := range final {
			parts[j] = fmt.Sprintf("% .4e", v)
		}
		fmt.Fprintf(w, "%g\t%d\t%s\n", values[i], res.Stats.Steps, strings.Join(parts, " "))
	}
	return w.Flush()
}

func benchModel(cmd *cobra.Command, args []string) error {
	problem, cfg, err := buildProblem(cmd, args[0])
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	if benchReps < 1 {
		benchReps = 1
	}

	var best time.Duration
	var steps int
	for i := 0; i < benchReps; i++ {
		runner, err := sim.New(problem, opts, cfg.Outputs)
		if err != nil {
			return err
		}
		start := time.Now()
		result, err := runner.Run(context.Background())
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		if best == 0 || elapsed < best {
			best = elapsed
		}
		steps = result.Stats.Steps
	}

	fmt.Printf("model: %s\n", problem.Name)
	fmt.Printf("best of %d: %v\n", benchReps, best)
	fmt.Printf("steps: %d\n", steps)
	if steps > 0 {
		fmt.Printf("per step: %v\n", best/time.Duration(steps))
	}
	return nil
}

func printStats(result *sim.Result) {
	fmt.Printf("steps: %d\n", result.Stats.Steps)
	fmt.Printf("residual evals: %d\n", result.Stats.ResEvals)
	fmt.Printf("linear setups: %d\n", result.Stats.LinSetups)
	fmt.Printf("error test failures: %d\n", result.Stats.ErrTestFails)
	fmt.Printf("last order: %d\n", result.Stats.LastOrder)
	fmt.Printf("last step: %g\n", result.Stats.LastStep)
	if len(result.Q) > 0 && len(result.Q[len(result.Q)-1]) > 0 {
		for i, q := range result.Q[len(result.Q)-1] {
			fmt.Printf("q%d = %.10g\n", i, q)
		}
	}
}
