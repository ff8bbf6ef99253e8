package app

import "ebakup-go/internal/model"

// Operation tracks the CLI operation being run. Operations are created in
// memory with ID=0. Only commands that touch the collection persist them
// to the journal, which assigns the ID.
type Operation struct {
	ID         int64
	Name       string
	Parameters string
	Status     string
	Detail     string
}

// NewOperation creates a new in-memory operation that succeeds unless
// marked otherwise.
func NewOperation(name, parameters string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     model.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the journal.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed with err as its detail.
func (op *Operation) Fail(err error) {
	op.Status = model.StatusError
	op.Detail = err.Error()
}
