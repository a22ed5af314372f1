package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/daesolve/internal/linsol"
	"github.com/san-kum/daesolve/internal/session"
)

const (
	DefaultRelTol      = 1e-6
	DefaultAbsTol      = 1e-8
	DefaultMaxSteps    = 10000
	DefaultMaxOrder    = 2
	DefaultFirstTime   = 1.0
	DefaultCheckpoint  = 20
	DefaultMaxKrylov   = 30
	DefaultOutputCount = 100
)

type Config struct {
	Model    string  `yaml:"model"`
	Duration float64 `yaml:"duration"`
	Outputs  int     `yaml:"outputs"`

	Solver SolverConfig `yaml:"solver"`
	Output OutputConfig `yaml:"output"`
}

type SolverConfig struct {
	RelTol             float64   `yaml:"reltol"`
	AbsTol             float64   `yaml:"abstol"`
	AbsTolV            []float64 `yaml:"abstolv"`
	MaxNumSteps        int       `yaml:"max_num_steps"`
	MaxOrder           int       `yaml:"max_order"`
	MaxStepSize        float64   `yaml:"max_step_size"`
	SuppressAlgebraic  bool      `yaml:"suppress_algebraic"`
	CalcIC             *bool     `yaml:"calc_ic"`
	CalcICB            *bool     `yaml:"calc_icB"`
	FirstTime          float64   `yaml:"first_time"`
	CJScaling          bool      `yaml:"cj_scaling"`
	FsensAbsTolV       []float64 `yaml:"fsens_abstolv"`
	ExtraFsensCalcIC   bool      `yaml:"extra_fsens_calc_ic"`
	InitXdot           []float64 `yaml:"init_xdot"`
	StopAtEnd          *bool     `yaml:"stop_at_end"`
	QuadErrCon         bool      `yaml:"quad_err_con"`
	StepsPerCheckpoint int       `yaml:"steps_per_checkpoint"`
	Interpolation      string    `yaml:"interpolation_type"`
	LinearSolver       string    `yaml:"linear_solver"`
	MaxKrylov          int       `yaml:"max_krylov"`
	UsePreconditioner  bool      `yaml:"use_preconditioner"`
}

type OutputConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:   "pendulum",
		Outputs: DefaultOutputCount,
		Solver: SolverConfig{
			RelTol:             DefaultRelTol,
			AbsTol:             DefaultAbsTol,
			MaxNumSteps:        DefaultMaxSteps,
			MaxOrder:           DefaultMaxOrder,
			FirstTime:          DefaultFirstTime,
			StepsPerCheckpoint: DefaultCheckpoint,
			Interpolation:      "hermite",
			MaxKrylov:          DefaultMaxKrylov,
		},
		Output: OutputConfig{Format: "json"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Options translates the solver section into session options; fields
// left at their zero value fall back to the session defaults.
func (c *Config) Options() (session.Options, error) {
	opts := session.DefaultOptions()
	s := c.Solver
	if s.RelTol > 0 {
		opts.RelTol = s.RelTol
	}
	if s.AbsTol > 0 {
		opts.AbsTol = s.AbsTol
	}
	if s.AbsTolV != nil {
		opts.AbsTolV = s.AbsTolV
	}
	if s.MaxNumSteps > 0 {
		opts.MaxNumSteps = s.MaxNumSteps
	}
	if s.MaxOrder > 0 {
		opts.MaxOrder = s.MaxOrder
	}
	opts.MaxStepSize = s.MaxStepSize
	opts.SuppressAlgebraic = s.SuppressAlgebraic
	if s.CalcIC != nil {
		opts.CalcIC = *s.CalcIC
	}
	opts.CalcICB = s.CalcICB
	if s.FirstTime > 0 {
		opts.FirstTime = s.FirstTime
	}
	opts.CJScaling = s.CJScaling
	if s.FsensAbsTolV != nil {
		opts.FsensAbsTolV = s.FsensAbsTolV
	}
	opts.ExtraFsensCalcIC = s.ExtraFsensCalcIC
	opts.InitXdot = s.InitXdot
	if s.StopAtEnd != nil {
		opts.StopAtEnd = *s.StopAtEnd
	}
	opts.QuadErrCon = s.QuadErrCon
	if s.StepsPerCheckpoint > 0 {
		opts.StepsPerCheckpoint = s.StepsPerCheckpoint
	}
	if s.Interpolation != "" {
		opts.Interpolation = s.Interpolation
	}
	switch s.LinearSolver {
	case "", "direct", "dense":
		opts.Linear = linsol.Direct{}
	default:
		kind, err := linsol.ParseKind(s.LinearSolver)
		if err != nil {
			return opts, err
		}
		maxl := s.MaxKrylov
		if maxl <= 0 {
			maxl = DefaultMaxKrylov
		}
		opts.Linear = linsol.Krylov{Kind: kind, MaxDim: maxl, UsePrecond: s.UsePreconditioner}
	}
	return opts, nil
}
