package processor

// ResultKind tells the chain how to proceed after a stage.
type ResultKind int

const (
	ResultContinue ResultKind = iota
	ResultFail
	ResultExit
)

func (k ResultKind) String() string {
	switch k {
	case ResultContinue:
		return "continue"
	case ResultFail:
		return "fail"
	case ResultExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Result is returned by the stages. A failed result carries the
// failure.
type Result struct {
	kind    ResultKind
	failure *Failure
}

// Continue lets the chain run the next stage.
func Continue() Result { return Result{kind: ResultContinue} }

// Fail stops the chain with a failure.
func Fail(f *Failure) Result { return Result{kind: ResultFail, failure: f} }

// Exit stops the chain, the response prepared so far is sent as is.
func Exit() Result { return Result{kind: ResultExit} }

func (r Result) Kind() ResultKind  { return r.kind }
func (r Result) Failure() *Failure { return r.failure }

// OutcomeKind is the terminal state of a chain.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeExit
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Outcome is the single result of running a chain.
type Outcome struct {
	kind    OutcomeKind
	failure *Failure
}

func success() Outcome              { return Outcome{kind: OutcomeSuccess} }
func failed(f *Failure) Outcome     { return Outcome{kind: OutcomeFailure, failure: f} }
func exited() Outcome               { return Outcome{kind: OutcomeExit} }
func (o Outcome) Kind() OutcomeKind { return o.kind }
func (o Outcome) Failure() *Failure { return o.failure }
