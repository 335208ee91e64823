//go:build !statecheck

package eventloop

// checkSingleWriter is a no-op outside the statecheck build tag; see
// statecheck_on.go.
func (w *Worker) checkSingleWriter() {}
