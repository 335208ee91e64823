package replconsole

import (
	"bufio"
	"io"
)

// readRune is one rune read from the input stream, or the error that ended
// the stream.
type readRune struct {
	r   rune
	err error
}

// runeReader delivers runes read from a reader over a channel, so a REPL's
// input loop can select between a key arriving and something else entirely
// -- a session's snapshot changing, say -- instead of blocking inside
// ReadRune with nothing else able to run.
type runeReader chan readRune

func newRuneReader(r io.Reader) runeReader {
	buf := bufio.NewReader(r)
	ch := make(runeReader)
	go func() {
		for {
			rr, _, err := buf.ReadRune()
			ch <- readRune{r: rr, err: err}
			if err != nil {
				return
			}
		}
	}()
	return ch
}
