package domain

// InstructionOp names a provider call a transition requires. The state
// machine itself performs no I/O; the orchestrator executes the instruction
// and feeds the outcome back as another transition.
type InstructionOp string

const (
	InstructionCreatePayment InstructionOp = "create_payment"
	InstructionVerifyPayment InstructionOp = "verify_payment"
	InstructionRefund        InstructionOp = "refund"
)

// Instruction is a side-effect request emitted by a transition.
type Instruction struct {
	Op                InstructionOp
	Provider          string
	ProviderPaymentID string
	Amount            *Money
}

// TransitionResult is what a successful state transition stages: at most one
// domain event, at most one appended transaction, and at most one provider
// call for the orchestrator to execute. A result with all fields nil is a
// status echo and requires no persistence beyond the aggregate itself.
type TransitionResult struct {
	Event       *Event
	Transaction *Transaction
	Instruction *Instruction
}

// IsEcho reports whether the transition changed nothing worth recording.
func (r *TransitionResult) IsEcho() bool {
	return r.Event == nil && r.Transaction == nil && r.Instruction == nil
}
