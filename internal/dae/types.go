package dae

import "fmt"

// Dimensions fixes the problem sizes for the lifetime of a session.
type Dimensions struct {
	NX  int // differential states
	NZ  int // algebraic states
	NQ  int // quadratures
	NRX int // backward differential states
	NRZ int // backward algebraic states
	NRQ int // backward quadratures
	NS  int // forward sensitivity directions
}

// StateLen is the length of the combined forward state vector.
func (d Dimensions) StateLen() int { return d.NX + d.NZ }

// BackLen is the length of the combined backward state vector.
func (d Dimensions) BackLen() int { return d.NRX + d.NRZ }

func (d Dimensions) Validate() error {
	if d.NX < 0 || d.NZ < 0 || d.NQ < 0 || d.NRX < 0 || d.NRZ < 0 || d.NRQ < 0 || d.NS < 0 {
		return fmt.Errorf("%w: negative dimension", ErrDimension)
	}
	if d.NX+d.NZ == 0 {
		return fmt.Errorf("%w: nx+nz must be positive", ErrDimension)
	}
	if d.NRX == 0 && (d.NRZ > 0 || d.NRQ > 0) {
		return fmt.Errorf("%w: backward problem requires nrx>0", ErrDimension)
	}
	return nil
}

// Stats holds solver diagnostics for one integration direction, refreshed
// after every advance or retreat.
type Stats struct {
	Steps        int     // accepted steps
	ResEvals     int     // residual evaluations
	LinSetups    int     // linear-solver setups
	ErrTestFails int     // local error test failures
	LastOrder    int     // order of the last step
	CurrentOrder int     // order of the next step
	FirstStep    float64 // step size actually used on the first step
	LastStep     float64 // step size of the last step
	CurrentStep  float64 // step size of the next step
	CurrentTime  float64 // internal integration time
}
