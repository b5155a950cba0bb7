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

	"github.com/grailbio/base/log"
	"github.com/grailbio/fiber/encoding/modbase"
	"github.com/grailbio/fiber/fiber"
	"github.com/grailbio/hts/sam"
)

func statRecord(rec *sam.Record, s *Summary) {
	s.Fibers++
	mods, err := modbase.Parse(rec, fiber.ForwardSeq(rec))
	if err != nil {
		s.Unparsable++
		log.Error.Printf("%s: %v", rec.Name, err)
		return
	}
	n := mods.Count(modbase.M6AKeys)
	if n == 0 {
		s.NoM6A++
	}
	s.M6A += n
	nucs, ok, err := getIntervals(rec, nucStartTag, nucLenTag)
	if err != nil {
		s.Unparsable++
		log.Error.Printf("%s: %v", rec.Name, err)
		return
	}
	if !ok {
		s.Untagged++
		return
	}
	s.Called++
	msps, _, err := getIntervals(rec, mspStartTag, mspLenTag)
	if err != nil {
		s.Unparsable++
		log.Error.Printf("%s: %v", rec.Name, err)
		return
	}
	s.addIntervals(nucs, msps)
}

// Stats summarizes the nucleosome tags of the BAM file at path.  Fibers
// with tags count as called.
func Stats(ctx context.Context, path string, opts Opts) (summary *Summary, err error) {
	in, err := openBAM(ctx, path, opts.parallelism())
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	summary = &Summary{}
	process := func(recs []*sam.Record) (interface{}, error) {
		s := &Summary{}
		for _, rec := range recs {
			statRecord(rec, s)
		}
		return s, nil
	}
	write := func(v interface{}) error {
		summary.merge(v.(*Summary))
		return nil
	}
	if err = forEachBatch(ctx, in.reader, opts, process, write); err != nil {
		return nil, err
	}
	return summary, nil
}
