package custody

// Result classifies what an asset said about a transfer. Assets that return
// nothing are common enough that silence counts as success.
type Result int

const (
	NoReturnData Result = iota
	ExplicitSuccess
	ExplicitFailure
)

func (r Result) OK() bool {
	return r == NoReturnData || r == ExplicitSuccess
}

func (r Result) String() string {
	switch r {
	case NoReturnData:
		return "no-return-data"
	case ExplicitSuccess:
		return "success"
	case ExplicitFailure:
		return "failure"
	default:
		return "unknown"
	}
}
