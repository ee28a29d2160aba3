package health

import (
	"strings"
	"sync"
)

// DefaultTailLines is how many stderr lines Diagnostics keeps.
const DefaultTailLines = 50

// Diagnostics scans encoder output for error keywords. The first match
// sticks until Reset.
type Diagnostics struct {
	keywords []string

	mu      sync.Mutex
	message string
	matches int
	tail    []string
	next    int
	full    bool
}

func NewDiagnostics(keywords []string, tailLines int) *Diagnostics {
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	lower := make([]string, len(keywords))
	for i, k := range keywords {
		lower[i] = strings.ToLower(k)
	}
	return &Diagnostics{keywords: lower, tail: make([]string, tailLines)}
}

// Scan records line and reports whether it matched a keyword.
func (d *Diagnostics) Scan(line string) bool {
	l := strings.ToLower(line)
	matched := false
	for _, k := range d.keywords {
		if strings.Contains(l, k) {
			matched = true
			break
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.tail[d.next] = line
	d.next = (d.next + 1) % len(d.tail)
	if d.next == 0 {
		d.full = true
	}
	if matched {
		d.matches++
		if d.message == "" {
			d.message = strings.TrimSpace(line)
		}
	}
	return matched
}

// HandleLine lets Diagnostics be used as a process output handler.
func (d *Diagnostics) HandleLine(_, line string) { d.Scan(line) }

// Error returns the sticky error message, if any.
func (d *Diagnostics) Error() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message, d.message != ""
}

// Matches counts every keyword hit, including those after the sticky one.
func (d *Diagnostics) Matches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.matches
}

// Tail returns the retained lines, oldest first.
func (d *Diagnostics) Tail() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.full {
		return append([]string(nil), d.tail[:d.next]...)
	}
	out := make([]string, 0, len(d.tail))
	out = append(out, d.tail[d.next:]...)
	return append(out, d.tail[:d.next]...)
}

// Reset clears the sticky error and the tail.
func (d *Diagnostics) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.message = ""
	d.matches = 0
	clear(d.tail)
	d.next = 0
	d.full = false
}
