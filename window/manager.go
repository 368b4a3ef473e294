// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package window

import (
	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/bitset"
	"github.com/grailbio/base/log"
)

// ManagerOpts configures a Manager.
type ManagerOpts struct {
	// Reference is the whole reference sequence, concatenated in contig order,
	// so that absolute coordinate p is Reference[p-1].  Optional.
	Reference []byte
	// Mask, if set, marks the counted positions of a new window.  bits has room
	// for w.Len() bits; Mask returns the number of bits it set.
	Mask func(w *Window, bits []uintptr) int64
	// OnCreate, if set, is called for every new window after its mask is
	// computed.
	OnCreate func(w *Window)
	// OnFinalized is called with every finalized window and its summary, in
	// window order, on the goroutine that called Finalize or Flush.  An error
	// is returned from that call.
	OnFinalized func(w *Window, s *Summary) error
}

// windowKey orders open windows by start in the llrb tree.
type windowKey struct {
	start int64
	w     *Window
}

// Compare implements llrb.Comparable.
func (k windowKey) Compare(c llrb.Comparable) int {
	k2 := c.(windowKey)
	switch {
	case k.start < k2.start:
		return -1
	case k.start > k2.start:
		return 1
	}
	return 0
}

// finalizeHandle is a single-slot future for one window's summary.
type finalizeHandle struct {
	w       *Window
	summary *Summary
	done    chan struct{}
}

// Manager tracks the open windows of one accumulation pass.  It creates
// windows lazily and finalizes them with at most one summary computation in
// flight.  Manager is not thread safe; it is owned by the stream driver.
type Manager struct {
	layout       *Layout
	opts         ManagerOpts
	open         llrb.Tree
	pending      *finalizeHandle
	numCreated   int
	numFinalized int
}

// NewManager creates a Manager over the windows of l.
func NewManager(l *Layout, opts ManagerOpts) *Manager {
	return &Manager{layout: l, opts: opts}
}

// Layout returns the window layout.
func (m *Manager) Layout() *Layout { return m.layout }

// GetOrCreate returns the open window starting at start, creating it if
// needed.  start must be a window start of the layout.
func (m *Manager) GetOrCreate(start int64) *Window {
	if c := m.open.Get(windowKey{start: start}); c != nil {
		return c.(windowKey).w
	}
	index := m.layout.Find(start)
	if index < 0 || m.layout.Start(index) != start {
		log.Panicf("window.GetOrCreate: %d is not a window start", start)
	}
	return m.create(index)
}

// Get returns window index, creating it if needed.
func (m *Manager) Get(index int) *Window {
	return m.GetOrCreate(m.layout.Start(index))
}

func (m *Manager) create(index int) *Window {
	w := newWindow(m.layout, index)
	if m.opts.Reference != nil {
		w.Reference = m.opts.Reference[w.Start-1 : w.End]
	}
	if m.opts.Mask != nil {
		n := int(w.Len())
		w.Selected = make([]uintptr, (n+bitset.BitsPerWord-1)/bitset.BitsPerWord)
		w.SelectedSize = m.opts.Mask(w, w.Selected)
	}
	if m.opts.OnCreate != nil {
		m.opts.OnCreate(w)
	}
	m.open.Insert(windowKey{start: w.Start, w: w})
	m.numCreated++
	return w
}

// Len returns the number of open windows.
func (m *Manager) Len() int { return m.open.Len() }

// Open returns the open windows in coordinate order.
func (m *Manager) Open() []*Window {
	var ws []*Window
	m.open.Do(func(c llrb.Comparable) bool {
		ws = append(ws, c.(windowKey).w)
		return false
	})
	return ws
}

// NumFinalized returns the number of windows whose summaries were delivered.
func (m *Manager) NumFinalized() int { return m.numFinalized }

// Finalize closes w: it waits for the previous finalize to complete, removes w
// from the open set and starts computing its summary in the background.  The
// caller must not touch w afterwards.
func (m *Manager) Finalize(w *Window) error {
	if err := m.Flush(); err != nil {
		return err
	}
	m.open.Delete(windowKey{start: w.Start})
	h := &finalizeHandle{w: w, done: make(chan struct{})}
	go func() {
		h.summary = w.Summarize()
		close(h.done)
	}()
	m.pending = h
	return nil
}

// Flush waits for the in-flight finalize, if any, and delivers its result.
func (m *Manager) Flush() error {
	h := m.pending
	if h == nil {
		return nil
	}
	<-h.done
	m.pending = nil
	m.numFinalized++
	if log.At(log.Debug) {
		log.Debug.Printf("window %d [%d, %d] finalized: mean coverage %.2f", h.w.Index, h.w.Start, h.w.End, h.summary.MeanCoverage)
	}
	if m.opts.OnFinalized != nil {
		return m.opts.OnFinalized(h.w, h.summary)
	}
	return nil
}
