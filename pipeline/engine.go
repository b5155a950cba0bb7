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
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

type batch struct {
	idx  int
	recs []*sam.Record
}

// inputBAM is an open BAM file.
type inputBAM struct {
	in     file.File
	reader *bam.Reader
}

func openBAM(ctx context.Context, path string, parallelism int) (*inputBAM, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	reader, err := bam.NewReader(in.Reader(ctx), parallelism)
	if err != nil {
		_ = in.Close(ctx)
		return nil, errors.E(err, "read BAM header", path)
	}
	return &inputBAM{in: in, reader: reader}, nil
}

func (b *inputBAM) close(ctx context.Context) error {
	err := b.reader.Close()
	if e := b.in.Close(ctx); e != nil && err == nil {
		err = e
	}
	return err
}

// readBatches sends the records of r to out in batches of size records.
func readBatches(ctx context.Context, r *bam.Reader, size int, out chan<- batch) error {
	for idx := 0; ; idx++ {
		recs := make([]*sam.Record, 0, size)
		eof := false
		for len(recs) < size {
			rec, err := r.Read()
			if err == io.EOF {
				eof = true
				break
			}
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		if len(recs) > 0 {
			select {
			case out <- batch{idx: idx, recs: recs}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if eof {
			return nil
		}
	}
}

// forEachBatch reads r in batches, calls process on each batch from
// opts.Parallelism goroutines, and passes the results to write in input
// order.  The first error stops the run.
func forEachBatch(ctx context.Context, r *bam.Reader, opts Opts,
	process func(recs []*sam.Record) (interface{}, error),
	write func(interface{}) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	parallelism := opts.parallelism()
	batches := make(chan batch, parallelism)
	var e errors.Once
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer close(batches)
		e.Set(readBatches(ctx, r, opts.batchSize(), batches))
	}()

	w := newOrderedWriter(opts.queueLength(), write)
	e.Set(traverse.Each(parallelism, func(int) error {
		for b := range batches {
			v, err := process(b.recs)
			if err != nil {
				w.abort(err)
				return err
			}
			if err = w.insert(b.idx, v); err != nil {
				return err
			}
		}
		return nil
	}))
	if e.Err() != nil {
		w.abort(e.Err())
	}
	e.Set(w.close())
	cancel()
	<-readDone
	return e.Err()
}
