package types

// Result is the settled outcome of one request: exactly one of Metadata
// or Err is meaningful.
type Result struct {
	Metadata Metadata
	Err      error
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Err == nil
}

// Success builds a successful Result.
func Success(md Metadata) Result {
	return Result{Metadata: md}
}

// Failure builds a failed Result.
func Failure(err error) Result {
	return Result{Err: err}
}
