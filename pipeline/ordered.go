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
package pipeline

import (
	"sync"

	"github.com/grailbio/base/syncqueue"
)

// orderedWriter hands batch results to a write function in the order of
// their batch numbers.  Batches may be inserted from any goroutine and in
// any order; a batch that arrives early is buffered until all preceding
// batches have been written.  At most queueSize batches are buffered, so an
// insert far ahead of the oldest missing batch blocks.
type orderedWriter struct {
	queue     *syncqueue.OrderedQueue
	write     func(interface{}) error
	waitGroup sync.WaitGroup
	abortOnce sync.Once
	err       error
}

func newOrderedWriter(queueSize int, write func(interface{}) error) *orderedWriter {
	w := &orderedWriter{
		queue: syncqueue.NewOrderedQueue(queueSize),
		write: write,
	}
	w.waitGroup.Add(1)
	go func() {
		defer w.waitGroup.Done()
		w.writeBatches()
	}()
	return w
}

// insert adds the result of batch idx.  It returns an error if the writer
// has failed or was aborted.
func (w *orderedWriter) insert(idx int, v interface{}) error {
	return w.queue.Insert(idx, v)
}

// abort stops the writer.  Pending and future inserts return err.
func (w *orderedWriter) abort(err error) {
	w.abortOnce.Do(func() { w.queue.Close(err) })
}

func (w *orderedWriter) writeBatches() {
	for {
		entry, ok, err := w.queue.Next()
		if err != nil {
			w.err = err
			break
		}
		if !ok {
			break
		}
		if err = w.write(entry); err != nil {
			w.err = err
			w.abort(err)
			return
		}
	}
}

// close waits until every inserted batch is written.  It must be called
// after the last insert.
func (w *orderedWriter) close() error {
	var err error
	w.abortOnce.Do(func() { err = w.queue.Close(nil) })
	w.waitGroup.Wait()
	if w.err != nil {
		return w.err
	}
	return err
}
