package config

func boolPtr(b bool) *bool { return &b }

var Presets = map[string]map[string]*Config{
	"pendulum": {
		"default": {
			Model: "pendulum", Duration: 10.0, Outputs: 200,
			Solver: SolverConfig{RelTol: 1e-6, AbsTol: 1e-8},
		},
		"tight": {
			Model: "pendulum", Duration: 10.0, Outputs: 200,
			Solver: SolverConfig{RelTol: 1e-10, AbsTol: 1e-12, MaxNumSteps: 100000},
		},
		"krylov": {
			Model: "pendulum", Duration: 10.0, Outputs: 200,
			Solver: SolverConfig{RelTol: 1e-6, AbsTol: 1e-8, LinearSolver: "gmres", UsePreconditioner: true},
		},
	},
	"robertson": {
		"stiff": {
			Model: "robertson", Duration: 40.0, Outputs: 100,
			Solver: SolverConfig{
				RelTol: 1e-6, AbsTol: 1e-10,
				SuppressAlgebraic: true, MaxNumSteps: 100000,
			},
		},
		"long": {
			Model: "robertson", Duration: 4000.0, Outputs: 100,
			Solver: SolverConfig{
				RelTol: 1e-6, AbsTol: 1e-10,
				SuppressAlgebraic: true, MaxNumSteps: 1000000,
			},
		},
	},
	"oscillator": {
		"adjoint": {
			Model: "oscillator", Duration: 5.0, Outputs: 100,
			Solver: SolverConfig{
				RelTol: 1e-8, AbsTol: 1e-10,
				QuadErrCon: true, StepsPerCheckpoint: 20,
			},
		},
		"coarse": {
			Model: "oscillator", Duration: 5.0, Outputs: 50,
			Solver: SolverConfig{RelTol: 1e-4, AbsTol: 1e-6, CalcIC: boolPtr(false)},
		},
	},
}

func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	return names
}
