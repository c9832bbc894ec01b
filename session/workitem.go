package session

import "io"

// workItem is the Go re-expression of the source's single nullable-field
// record. Instead of four null-checked fields on one struct, each kind is
// its own type implementing the marker method; the loop dispatches with a
// type switch (see loop.go).
type workItem interface {
	isWorkItem()
}

// poisonItem requests graceful termination: rollback if a transaction is
// open, otherwise return cleanly.
type poisonItem struct{}

func (poisonItem) isWorkItem() {}

// rollbackItem asks the loop to roll back and exit, regardless of the
// current transaction state. No facade method enqueues one; the loop and
// failPending handle it when it is queued.
type rollbackItem struct {
	done chan<- error
}

func (rollbackItem) isWorkItem() {}

// queryItem is an ordinary execution: one SQL statement, its parameters,
// and the sink that will receive its result events.
type queryItem struct {
	query Query
	sink  *resultSink
}

func (queryItem) isWorkItem() {}

// copySource is the explicit variant the source's "source: Object"
// polymorphism collapses to: either a buffered io.Reader or a channel of
// byte chunks pushed by a lazy producer.
type copySource struct {
	buffered io.Reader
	chunks   <-chan []byte
}

// copyItem drives a single COPY IN from one of the two source strategies.
type copyItem struct {
	sql    string
	source copySource
	sink   *rowCountSink
}

func (copyItem) isWorkItem() {}
