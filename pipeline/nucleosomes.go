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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/fiber/fiber"
	"github.com/grailbio/fiber/hmm"
	"github.com/grailbio/fiber/nucleosome"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

type taggedBatch struct {
	recs    []*sam.Record
	summary Summary
}

func newCaller(ctx context.Context, opts Opts) (*nucleosome.Caller, error) {
	var model hmm.Model
	if opts.ModelPath != "" {
		m, err := hmm.Load(ctx, opts.ModelPath)
		if err != nil {
			return nil, err
		}
		model = m
	} else {
		log.Printf("no model given, using the gap caller only")
	}
	return nucleosome.NewCaller(opts.Caller, model)
}

// tagRecord calls nucleosomes on rec and sets its ns/nl and as/al tags.
// Fibers that cannot be called are left untouched.  Only fatal errors are
// returned.
func tagRecord(c *nucleosome.Caller, rec *sam.Record, s *Summary) error {
	s.Fibers++
	f, err := fiber.New(rec)
	if err != nil {
		if nucleosome.IsFatal(err) {
			return err
		}
		s.Unparsable++
		log.Error.Printf("%s: %v", rec.Name, err)
		return nil
	}
	res, err := c.Call(f)
	switch {
	case err == nucleosome.ErrNoModifications:
		s.NoM6A++
		if log.At(log.Debug) {
			log.Debug.Printf("%s: no m6A calls, left untagged", rec.Name)
		}
		return nil
	case err == nucleosome.ErrInsufficientEvidence:
		s.Degraded++
		if log.At(log.Debug) {
			log.Debug.Printf("%s: %d m6A calls, bookends only", rec.Name, len(res.Methylated))
		}
	case err != nil:
		return err
	default:
		s.Called++
	}
	s.M6A += len(res.Methylated)
	s.Mesh.Add(res.Mesh)
	s.addIntervals(res.Nucleosomes, res.Accessible)
	if err := setIntervals(rec, nucStartTag, nucLenTag, res.Nucleosomes); err != nil {
		return err
	}
	return setIntervals(rec, mspStartTag, mspLenTag, res.Accessible)
}

// AddNucleosomes reads opts.Input, calls nucleosomes on every fiber, and
// writes the records with ns/nl (nucleosome) and as/al (accessible) tags to
// opts.Output in input order.
func AddNucleosomes(ctx context.Context, opts Opts) (*Summary, error) {
	caller, err := newCaller(ctx, opts)
	if err != nil {
		return nil, err
	}
	summary, err := rewriteBAM(ctx, opts, func(rec *sam.Record, s *Summary) error {
		return tagRecord(caller, rec, s)
	})
	if err != nil {
		return nil, err
	}
	summary.Log("nucleosomes")
	return summary, nil
}

// rewriteBAM copies opts.Input to opts.Output in input order, passing every
// record through update first.  An error from update stops the run.
func rewriteBAM(ctx context.Context, opts Opts, update func(rec *sam.Record, s *Summary) error) (summary *Summary, err error) {
	in, err := openBAM(ctx, opts.Input, opts.parallelism())
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	out, err := file.Create(ctx, opts.Output)
	if err != nil {
		return nil, errors.E(err, "create", opts.Output)
	}
	bw, err := bam.NewWriter(out.Writer(ctx), in.reader.Header(), opts.parallelism())
	if err != nil {
		_ = out.Close(ctx)
		return nil, errors.E(err, "write BAM header", opts.Output)
	}

	summary = &Summary{}
	process := func(recs []*sam.Record) (interface{}, error) {
		b := &taggedBatch{recs: recs}
		for _, rec := range recs {
			if err := update(rec, &b.summary); err != nil {
				return nil, err
			}
		}
		return b, nil
	}
	write := func(v interface{}) error {
		b := v.(*taggedBatch)
		for _, rec := range b.recs {
			if err := bw.Write(rec); err != nil {
				return errors.E(err, "write", opts.Output)
			}
			sam.PutInFreePool(rec)
		}
		summary.merge(&b.summary)
		return nil
	}
	err = forEachBatch(ctx, in.reader, opts, process, write)
	if e := bw.Close(); e != nil && err == nil {
		err = errors.E(e, "close", opts.Output)
	}
	if e := out.Close(ctx); e != nil && err == nil {
		err = errors.E(e, "close", opts.Output)
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}
