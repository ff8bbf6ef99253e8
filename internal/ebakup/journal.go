package ebakup

import "ebakup-go/internal/model"

// Journal records the operations run against a collection.
type Journal interface {
	// StartOperation records a new running operation and returns it with
	// its assigned ID.
	StartOperation(operation, parameters string) (*model.Operation, error)

	// FinishOperation closes an operation with a final status and detail.
	FinishOperation(id int64, status, detail string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*model.Operation, error)

	Close() error
}
