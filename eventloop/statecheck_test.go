//go:build statecheck

package eventloop

import (
	"sync"
	"testing"
)

func TestCheckSingleWriterPanicsOnForeignGoroutine(t *testing.T) {
	w := &Worker{}
	w.checkSingleWriter()

	var wg sync.WaitGroup
	wg.Add(1)

	panicked := make(chan bool, 1)
	go func() {
		defer wg.Done()
		defer func() {
			panicked <- recover() != nil
		}()
		w.checkSingleWriter()
	}()
	wg.Wait()

	if !<-panicked {
		t.Errorf("expected checkSingleWriter to panic when called from a second goroutine")
	}
}

func TestCheckSingleWriterAllowsSameGoroutine(t *testing.T) {
	w := &Worker{}
	w.checkSingleWriter()
	w.checkSingleWriter()
}
