// Package models ships the built-in differential-algebraic test
// problems: each one bundles an evaluator, consistent initial values
// and a default horizon into a ready-to-integrate Problem.
package models
