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
	"github.com/grailbio/base/log"
	"github.com/grailbio/fiber/bed12"
	"github.com/grailbio/fiber/fiber"
	"github.com/grailbio/fiber/interval"
	"github.com/grailbio/fiber/liftover"
	"github.com/grailbio/fiber/nucleosome"
	"github.com/grailbio/hts/sam"
)

// Track identifies one BED12 output of Extract.
type Track int

const (
	// NucTrack holds the nucleosome calls.
	NucTrack Track = iota
	// MSPTrack holds the accessible stretches.
	MSPTrack
	// M6ATrack holds the m6A calls as 1bp blocks.
	M6ATrack
	// CpGTrack holds the 5mC calls as 1bp blocks.
	CpGTrack
	numTracks
)

var trackNames = [numTracks]string{"nucleosome", "msp", "m6a", "cpg"}

func (t Track) String() string { return trackNames[t] }

func (o Opts) trackPaths() [numTracks]string {
	return [numTracks]string{o.NucPath, o.MSPPath, o.M6APath, o.CpGPath}
}

type bedBatch struct {
	records [numTracks][]bed12.Record
	summary Summary
}

// extractor turns tagged fibers into BED12 records.
type extractor struct {
	opts    Opts
	enabled [numTracks]bool
	region  *interval.Region
	minProb uint8
}

func newExtractor(opts Opts) (*extractor, error) {
	x := &extractor{opts: opts, minProb: uint8(opts.Caller.MinModProb)}
	for i, path := range opts.trackPaths() {
		x.enabled[i] = path != ""
	}
	if opts.Region != "" {
		if !opts.Reference {
			return nil, errors.E(errors.Invalid, "region filter requires reference coordinates")
		}
		r, err := interval.ParseRegion(opts.Region)
		if err != nil {
			return nil, errors.E(errors.Invalid, err)
		}
		x.region = &r
	}
	return x, nil
}

func points(pos []int) interval.Set {
	s := make(interval.Set, len(pos))
	for i, p := range pos {
		s[i] = interval.Interval{Start: p, Size: 1}
	}
	return s
}

// tracks returns the fiber-local intervals of each enabled track.  ok is
// false if the nucleosome or MSP track is enabled and f is not tagged.
func (x *extractor) tracks(f *fiber.Fiber) (sets [numTracks]interval.Set, ok bool, err error) {
	ok = true
	for t, tags := range map[Track][2]sam.Tag{
		NucTrack: {nucStartTag, nucLenTag},
		MSPTrack: {mspStartTag, mspLenTag},
	} {
		if !x.enabled[t] {
			continue
		}
		s, found, err := getIntervals(f.Rec, tags[0], tags[1])
		if err != nil {
			return sets, false, err
		}
		if !found {
			ok = false
		}
		sets[t] = s
	}
	if x.enabled[M6ATrack] {
		sets[M6ATrack] = points(f.M6A(x.minProb))
	}
	if x.enabled[CpGTrack] {
		sets[CpGTrack] = points(f.CpG(x.minProb))
	}
	return sets, ok, nil
}

// extract appends the BED12 records of rec to b.  Only fatal errors are
// returned.
func (x *extractor) extract(rec *sam.Record, b *bedBatch) error {
	s := &b.summary
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

	chrom, start, end := f.Name(), 0, f.Len()
	var pairs []liftover.Pair
	if x.opts.Reference {
		if !f.IsMapped() || int(rec.MapQ) < x.opts.MinMapQ {
			s.Skipped++
			return nil
		}
		chrom = f.RefName()
		start, end = f.RefSpan()
		if x.region != nil && !x.region.Overlaps(chrom, start, end) {
			s.Skipped++
			return nil
		}
		pairs = f.AlignedPairs()
	}

	sets, tagged, err := x.tracks(f)
	if err != nil {
		s.Unparsable++
		log.Error.Printf("%s: %v", rec.Name, err)
		return nil
	}
	if !tagged {
		s.Untagged++
		if log.At(log.Debug) {
			log.Debug.Printf("%s: no nucleosome tags", rec.Name)
		}
	}
	s.addIntervals(sets[NucTrack], sets[MSPTrack])
	s.M6A += len(sets[M6ATrack])

	for t := Track(0); t < numTracks; t++ {
		if !x.enabled[t] || len(sets[t]) == 0 {
			continue
		}
		blocks := sets[t].FilterMinSize(1)
		if x.opts.Reference {
			refStarts, refEnds, dropped := liftover.Lift(pairs, blocks.Starts(), blocks.Ends(), f.Len(), f.IsReverse())
			s.LiftDropped += dropped
			blocks = interval.FromStartsEnds(refStarts, refEnds)
		}
		r, err := bed12.NewRecord(chrom, start, end, f.Name(), f.EC(), f.Strand(), blocks)
		if err == bed12.ErrNoBlocks {
			continue
		}
		if err != nil {
			return err
		}
		b.records[t] = append(b.records[t], r)
	}
	return nil
}

// Extract writes the nucleosome, MSP, m6A and CpG tracks of the fibers in
// opts.Input as BED12 files.  Nucleosomes and MSPs come from the tags written
// by AddNucleosomes.  With opts.Reference, intervals are lifted to reference
// coordinates and unmapped fibers are skipped; otherwise each fiber is its
// own chromosome spanning [0, length).
func Extract(ctx context.Context, opts Opts) (summary *Summary, err error) {
	x, err := newExtractor(opts)
	if err != nil {
		return nil, err
	}
	var writers [numTracks]*bed12.FileWriter
	defer func() {
		for _, w := range writers {
			if w == nil {
				continue
			}
			if e := w.Close(ctx); e != nil && err == nil {
				err = e
			}
		}
	}()
	createOpts := bed12.CreateOpts{Parallelism: opts.parallelism(), Gzip: opts.Gzip}
	for t, path := range opts.trackPaths() {
		if path == "" {
			continue
		}
		if writers[t], err = bed12.Create(ctx, path, createOpts); err != nil {
			return nil, err
		}
	}

	in, err := openBAM(ctx, opts.Input, opts.parallelism())
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
		b := &bedBatch{}
		for _, rec := range recs {
			if err := x.extract(rec, b); err != nil {
				return nil, err
			}
		}
		return b, nil
	}
	write := func(v interface{}) error {
		b := v.(*bedBatch)
		for t, w := range writers {
			if w == nil {
				continue
			}
			for _, r := range b.records[t] {
				if err := w.Write(r); err != nil {
					return errors.E(err, "write", Track(t).String())
				}
			}
		}
		summary.merge(&b.summary)
		return nil
	}
	if err = forEachBatch(ctx, in.reader, opts, process, write); err != nil {
		return nil, err
	}
	summary.Log("extract")
	return summary, nil
}
