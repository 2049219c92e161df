package writer

import "errors"

// errCircuitOpen is returned when the writer's circuit breaker has tripped
// and a flush is refused outright without attempting the sink call.
var errCircuitOpen = errors.New("writer: circuit breaker open")

// DataIntegrityError marks a flush failure that must not be retried: the
// sink rejected the batch on a constraint/uniqueness violation. The batch
// is discarded and counted, per §4.C / §7.
type DataIntegrityError struct {
	Err error
}

func (e *DataIntegrityError) Error() string { return "data integrity: " + e.Err.Error() }
func (e *DataIntegrityError) Unwrap() error { return e.Err }

// TransientError marks a flush failure eligible for retry (connection
// reset, timeout, backend unavailable).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func isTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func isDataIntegrity(err error) bool {
	var d *DataIntegrityError
	return errors.As(err, &d)
}
