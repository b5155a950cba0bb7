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
	"sort"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/fiber/encoding/modbase"
	"github.com/grailbio/fiber/fiber"
	"github.com/grailbio/hts/sam"
)

// m6aCall is one row of the call table: a read name and a 0-based position
// in the orientation the molecule was sequenced in.
type m6aCall struct {
	Read string `tsv:"read"`
	Pos  int64  `tsv:"pos"`
}

// readM6ACalls reads the call table at path, optionally compressed, and
// returns the sorted positions per read.
func readM6ACalls(ctx context.Context, path string) (calls map[string][]int, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	r := tsv.NewReader(reader)
	r.HasHeaderRow = true
	r.UseHeaderNames = true
	r.Comment = '#'
	calls = map[string][]int{}
	for {
		var row m6aCall
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(err, "read", path)
		}
		calls[row.Read] = append(calls[row.Read], int(row.Pos))
	}
	for _, pos := range calls {
		sort.Ints(pos)
	}
	return calls, nil
}

// markRecord adds the m6A calls in pos to the MM/ML tags of rec.  Only
// fatal errors are returned.
func markRecord(rec *sam.Record, pos []int, minCalls int, s *Summary) error {
	s.Fibers++
	if len(pos) == 0 {
		s.NoM6A++
		return nil
	}
	if len(pos) < minCalls {
		s.Skipped++
		if log.At(log.Debug) {
			log.Debug.Printf("%s: %d m6A calls, left unmarked", rec.Name, len(pos))
		}
		return nil
	}
	mm, ml, err := modbase.EncodeM6A(fiber.ForwardSeq(rec), pos)
	if err != nil {
		return errors.E(err, rec.Name)
	}
	if err := modbase.AppendTags(rec, mm, ml); err != nil {
		return err
	}
	s.Called++
	s.M6A += len(pos)
	return nil
}

// AddM6A reads opts.Input and writes it to opts.Output in input order,
// appending the m6A calls listed in opts.CallsPath to each record's MM/ML
// tags as "A+a" and "T-a" entries with probability 255.  Fibers with fewer
// than opts.MinM6ACalls calls are written unchanged.  A call that is not on
// an A or T of the molecule is fatal.
func AddM6A(ctx context.Context, opts Opts) (*Summary, error) {
	calls, err := readM6ACalls(ctx, opts.CallsPath)
	if err != nil {
		return nil, err
	}
	log.Printf("read m6A calls for %d fibers from %s", len(calls), opts.CallsPath)
	summary, err := rewriteBAM(ctx, opts, func(rec *sam.Record, s *Summary) error {
		return markRecord(rec, calls[rec.Name], opts.MinM6ACalls, s)
	})
	if err != nil {
		return nil, err
	}
	summary.Log("m6a")
	return summary, nil
}
