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
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// shutdownTimeout bounds how long shutdown waits for workers to exit.
const shutdownTimeout = 2 * time.Minute

// task is one submitted bunch.  done is closed once delta or err is set.
type task struct {
	items []item
	hint  int
	done  chan struct{}
	delta *Delta
	err   error
}

func (t *task) wait() (*Delta, error) {
	<-t.done
	return t.delta, t.err
}

// workerPool runs processBunch on a fixed number of goroutines.
type workerPool struct {
	env   *env
	tasks chan *task
	wg    sync.WaitGroup
	err   errors.Once
}

func newWorkerPool(e *env, parallelism, queueSize int) *workerPool {
	p := &workerPool{env: e, tasks: make(chan *task, queueSize)}
	p.wg.Add(parallelism)
	for i := 0; i < parallelism; i++ {
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				p.run(t)
			}
		}()
	}
	return p
}

func (p *workerPool) run(t *task) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.delta = nil
			t.err = errors.E(fmt.Sprintf("bamqc: bunch worker panicked: %v", r))
			p.err.Set(t.err)
		}
	}()
	t.delta, t.err = processBunch(p.env, t.items, t.hint)
	p.err.Set(t.err)
}

// submit queues items for processing.  It blocks while the task channel is
// full.
func (p *workerPool) submit(items []item, hint int) *task {
	t := &task{items: items, hint: hint, done: make(chan struct{})}
	p.tasks <- t
	return t
}

// shutdown stops the workers and waits for them, for at most
// shutdownTimeout.  It returns the first worker error.
func (p *workerPool) shutdown() error {
	close(p.tasks)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Error.Printf("bamqc: workers did not exit within %v", shutdownTimeout)
	}
	return p.err.Err()
}
