package ida

// Flag is an engine status code. Zero is success, positive values are
// informational, negative values are fatal.
type Flag int

const (
	Success     Flag = 0
	TstopReturn Flag = 1 // stop time reached before the requested output time

	ErrTooMuchWork Flag = -1  // max_num_steps exceeded before reaching the output time
	ErrConvFail    Flag = -2  // repeated Newton convergence failures
	ErrErrFail     Flag = -3  // repeated local error test failures
	ErrLinInit     Flag = -4  // no linear solver attached
	ErrLsetupFail  Flag = -5  // linear solver setup failed unrecoverably
	ErrLsolveFail  Flag = -6  // linear solve failed unrecoverably
	ErrResFail     Flag = -7  // residual callback failed unrecoverably
	ErrRepResErr   Flag = -8  // residual kept signaling recoverable failures
	ErrIllInput    Flag = -9  // inconsistent call or argument
	ErrBadT        Flag = -10 // requested time outside the reachable interval
	ErrMem         Flag = -11 // engine not initialized
	ErrNoAdj       Flag = -12 // adjoint module not initialized
	ErrNoBck       Flag = -13 // no such backward problem
	ErrQuadFail    Flag = -14 // quadrature callback failed
	ErrICFail      Flag = -15 // consistent-IC calculation did not converge
)

var flagNames = map[Flag]string{
	Success:        "SUCCESS",
	TstopReturn:    "TSTOP_RETURN",
	ErrTooMuchWork: "TOO_MUCH_WORK",
	ErrConvFail:    "CONV_FAIL",
	ErrErrFail:     "ERR_FAIL",
	ErrLinInit:     "LINIT_FAIL",
	ErrLsetupFail:  "LSETUP_FAIL",
	ErrLsolveFail:  "LSOLVE_FAIL",
	ErrResFail:     "RES_FAIL",
	ErrRepResErr:   "REP_RES_ERR",
	ErrIllInput:    "ILL_INPUT",
	ErrBadT:        "BAD_T",
	ErrMem:         "MEM_NULL",
	ErrNoAdj:       "NO_ADJ",
	ErrNoBck:       "NO_BCK",
	ErrQuadFail:    "QRHS_FAIL",
	ErrICFail:      "IC_FAIL",
}

func (f Flag) String() string {
	if s, ok := flagNames[f]; ok {
		return s
	}
	return "UNKNOWN_FLAG"
}

// Fatal reports whether f aborts the integration.
func (f Flag) Fatal() bool { return f < 0 }
