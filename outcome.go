package retrydlq

import "fmt"

// OutcomeKind describes how an attempt sequence or a replay ended.
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota + 1
	OutcomeSentToDeadLetter
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSentToDeadLetter:
		return "sent_to_dead_letter"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProcessOutcome is the terminal state of ProcessWithRetry or Reprocess.
// Cause is only set for OutcomeFailed.
type ProcessOutcome struct {
	Kind         OutcomeKind
	AttemptsUsed int
	Cause        error
}

func Succeeded(attemptsUsed int) ProcessOutcome {
	return ProcessOutcome{Kind: OutcomeSucceeded, AttemptsUsed: attemptsUsed}
}

func SentToDeadLetter(attemptsUsed int) ProcessOutcome {
	return ProcessOutcome{Kind: OutcomeSentToDeadLetter, AttemptsUsed: attemptsUsed}
}

func Failed(attemptsUsed int, cause error) ProcessOutcome {
	return ProcessOutcome{Kind: OutcomeFailed, AttemptsUsed: attemptsUsed, Cause: cause}
}

func (o ProcessOutcome) IsSucceeded() bool {
	return o.Kind == OutcomeSucceeded
}

func (o ProcessOutcome) IsSentToDeadLetter() bool {
	return o.Kind == OutcomeSentToDeadLetter
}

func (o ProcessOutcome) IsFailed() bool {
	return o.Kind == OutcomeFailed
}

func (o ProcessOutcome) Err() error {
	return o.Cause
}

func (o ProcessOutcome) String() string {
	if o.Cause != nil {
		return fmt.Sprintf("%s after %d attempt(s): %v", o.Kind, o.AttemptsUsed, o.Cause)
	}
	return fmt.Sprintf("%s after %d attempt(s)", o.Kind, o.AttemptsUsed)
}
