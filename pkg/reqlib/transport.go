package reqlib

// Transport performs the network I/O of one attempt of one Request.
// The worker calls every method from its own goroutine; implementations
// doing blocking work must do it elsewhere and report through a Reporter
// taken in Start and their own status accessors.
type Transport interface {
	// Start begins the attempt. An error means the attempt could not be
	// started at all and completes the request with a connection error.
	Start() error
	// Cancel aborts the attempt. Must be safe to call more than once.
	Cancel()
	// Tick advances cooperative transports. Goroutine-driven transports may
	// treat it as a no-op.
	Tick()
	IsComplete() bool
	// Status is one of StatusSucceeded, StatusFailed or StatusCancelled once
	// IsComplete reports true.
	Status() Status
	FailureReason() FailureReason
	Response() *Response
}

// TransportFactory creates a fresh Transport for each attempt of req.
type TransportFactory func(req *Request) (Transport, error)

// errReporter is implemented by transports that keep the error behind a
// failure.
type errReporter interface {
	Err() error
}

func transportErr(t Transport) error {
	if er, ok := t.(errReporter); ok {
		return er.Err()
	}
	return nil
}
