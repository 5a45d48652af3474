package agent

// Outcome reasons.
const (
	ReasonAnswered  = "answered"
	ReasonStopped   = "stopped by user"
	ReasonStepLimit = "step limit reached"
	ReasonTimeLimit = "time limit reached"
	ReasonTransport = "backend request failed"
)

func humanizeReason(reason string) string {
	switch reason {
	case ReasonAnswered:
		return "model answered and finished the task"
	case ReasonStopped:
		return "execution was stopped by the user"
	case ReasonStepLimit:
		return "step limit reached before an answer"
	case ReasonTimeLimit:
		return "time limit reached before an answer"
	case ReasonTransport:
		return "backend could not be reached"
	default:
		return reason
	}
}
