package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// MaxLineSize bounds a single stdout line. Longer lines fail the scan.
const MaxLineSize = 1 << 20

// Tags are matched longest first so "BP:" is never mistaken for "P:".
var tags = []struct {
	prefix string
	kind   Kind
}{
	{"BP:", BatchProgress},
	{"MP:", MultiProgress},
	{"S:", Step},
	{"I:", Info},
	{"P:", Progress},
}

// Parse classifies a single line. Trailing carriage returns are dropped.
func Parse(line string) Message {
	line = strings.TrimRight(line, "\r")
	for _, t := range tags {
		if rest, ok := strings.CutPrefix(line, t.prefix); ok {
			return Message{Kind: t.kind, Payload: strings.TrimSpace(rest)}
		}
	}
	return Message{Kind: Log, Payload: line}
}

// Scan reads r line by line until EOF, invoking fn for every line in order.
// It returns only read errors; malformed lines are delivered as Log.
func Scan(r io.Reader, fn func(Message)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for scanner.Scan() {
		fn(Parse(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read runner output: %w", err)
	}
	return nil
}
