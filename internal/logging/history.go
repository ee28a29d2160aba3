package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry is one retained log record.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Module  string            `json:"module"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// History keeps the newest log entries in a fixed-size ring.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{entries: make([]Entry, size)}
}

func (h *History) add(e Entry) {
	h.mu.Lock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Last returns up to n entries, oldest first. n <= 0 returns everything held.
func (h *History) Last(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var all []Entry
	if h.full {
		all = append(slices.Clone(h.entries[h.next:]), h.entries[:h.next]...)
	} else {
		all = slices.Clone(h.entries[:h.next])
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Handler returns a slog.Handler that records into h.
func (h *History) Handler(level slog.Leveler) slog.Handler {
	return &historyHandler{history: h, level: level}
}

type historyHandler struct {
	history *History
	level   slog.Leveler
	attrs   []slog.Attr
	groups  []string
}

func (h *historyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *historyHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   strings.ToLower(r.Level.String()),
		Module:  "app",
		Message: r.Message,
	}
	collect := func(a slog.Attr) {
		if a.Key == "module" && len(h.groups) == 0 {
			e.Module = a.Value.String()
			return
		}
		if e.Attrs == nil {
			e.Attrs = make(map[string]string)
		}
		flatten(e.Attrs, h.groups, a)
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})
	h.history.add(e)
	return nil
}

func (h *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(slices.Clip(h.attrs), attrs...)
	return &c
}

func (h *historyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = append(slices.Clip(h.groups), name)
	return &c
}

func flatten(out map[string]string, groups []string, a slog.Attr) {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		sub := append(slices.Clone(groups), a.Key)
		for _, ga := range v.Group() {
			flatten(out, sub, ga)
		}
		return
	}
	out[key] = v.String()
}
