package models

import "github.com/san-kum/daesolve/internal/dae"

// Problem is a fully specified integration case: the evaluator plus
// everything needed to run it without further input.
type Problem struct {
	Name string
	Desc string

	Dims dae.Dimensions
	T0   float64
	TF   float64

	X0 []float64 // differential initial state
	Z0 []float64 // algebraic initial guess
	P  []float64

	// Backward seeds; nil when the problem defines no adjoint.
	RX0 []float64
	RZ0 []float64
	RP  []float64

	Model dae.Evaluator
}

// HasBackward reports whether the problem carries an adjoint system.
func (p *Problem) HasBackward() bool { return p.Dims.NRX > 0 }

// Builder is a parameterized problem factory.
type Builder interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
	Problem() *Problem
}
