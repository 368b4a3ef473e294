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

package bamqc

import (
	"context"
	"strings"

	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/bamqc/window"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/syncqueue"
)

// coverageQueueSize is the number of finalized windows the coverage writer
// may buffer.
const coverageQueueSize = 4

// CoverageWriter writes the per-position coverage of finalized windows as
// "contig, pos, coverage" lines.  Windows are formatted on a background
// goroutine in the order they were added.  Add is meant to be used as
// Opts.OnWindowFinalized.
type CoverageWriter struct {
	mapper      *coord.Mapper
	nonZeroOnly bool
	out         *reportFile
	queue       *syncqueue.OrderedQueue
	next        int
	done        chan struct{}
	err         errors.Once
}

// OutsideCoveragePath returns the coverage path of the outside statistics
// that goes with path: "outside_" is prefixed to the file name.
func OutsideCoveragePath(path string) string {
	i := strings.LastIndex(path, "/")
	return path[:i+1] + "outside_" + path[i+1:]
}

// NewCoverageWriter creates path and starts its writer.  If nonZeroOnly,
// positions with no coverage are left out.  Compression follows the path
// suffix, as for the reports.
func NewCoverageWriter(ctx context.Context, path string, mapper *coord.Mapper, nonZeroOnly bool) (*CoverageWriter, error) {
	out, err := createReport(ctx, path)
	if err != nil {
		return nil, err
	}
	cw := &CoverageWriter{
		mapper:      mapper,
		nonZeroOnly: nonZeroOnly,
		out:         out,
		queue:       syncqueue.NewOrderedQueue(coverageQueueSize),
		done:        make(chan struct{}),
	}
	out.w.WriteString("#contig\tpos\tcoverage")
	cw.err.Set(out.w.EndLine())
	go cw.loop()
	return cw, nil
}

// Add queues w.  It blocks while the queue is full.
func (cw *CoverageWriter) Add(w *window.Window, _ *window.Summary) error {
	if err := cw.queue.Insert(cw.next, w); err != nil {
		return err
	}
	cw.next++
	return cw.err.Err()
}

func (cw *CoverageWriter) loop() {
	defer close(cw.done)
	for {
		v, ok, err := cw.queue.Next()
		if err != nil {
			cw.err.Set(err)
			return
		}
		if !ok {
			return
		}
		if err := cw.write(v.(*window.Window)); err != nil {
			cw.err.Set(err)
			// Unblock Add.
			cw.queue.Close(err) // nolint: errcheck
			return
		}
	}
}

func (cw *CoverageWriter) write(w *window.Window) error {
	c := cw.mapper.Contig(w.ContigID)
	tw := cw.out.w
	for i, cov := range w.Coverage {
		if !w.IsSelected(i) || (cw.nonZeroOnly && cov == 0) {
			continue
		}
		tw.WriteString(c.Name)
		tw.WriteInt64(w.Start - c.Offset + int64(i))
		tw.WriteInt64(int64(cov))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for the queued windows to be written and closes the file.
func (cw *CoverageWriter) Close(ctx context.Context) error {
	if cw.err.Err() == nil {
		cw.err.Set(cw.queue.Close(nil))
	}
	<-cw.done
	cw.err.Set(cw.out.close(ctx))
	return cw.err.Err()
}
