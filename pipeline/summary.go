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
	"fmt"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/fiber/interval"
	"github.com/grailbio/fiber/nucleosome"
	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/stat"
)

// maxTrackedSize is the largest interval size kept in the size histograms;
// larger intervals are counted at maxTrackedSize.
const maxTrackedSize = 2000

// SizeHist counts interval sizes.  SizeHist[n] is the number of intervals
// of size n.
type SizeHist [maxTrackedSize + 1]float64

func (h *SizeHist) add(s interval.Set) {
	for _, iv := range s {
		n := iv.Size
		if n > maxTrackedSize {
			n = maxTrackedSize
		}
		h[n]++
	}
}

func (h *SizeHist) merge(o *SizeHist) {
	for i := range h {
		h[i] += o[i]
	}
}

var sizeValues = func() []float64 {
	v := make([]float64, maxTrackedSize+1)
	for i := range v {
		v[i] = float64(i)
	}
	return v
}()

// Count returns the number of intervals.
func (h *SizeHist) Count() int {
	var n float64
	for _, c := range h {
		n += c
	}
	return int(n)
}

// Mean returns the mean size, or 0 if empty.
func (h *SizeHist) Mean() float64 {
	if h.Count() == 0 {
		return 0
	}
	return stat.Mean(sizeValues, h[:])
}

// Quantile returns the p-quantile of the sizes, or 0 if empty.
func (h *SizeHist) Quantile(p float64) float64 {
	if h.Count() == 0 {
		return 0
	}
	return stat.Quantile(p, stat.Empirical, sizeValues, h[:])
}

// Plot renders the histogram in bins of binWidth bases up to maxSize.
func (h *SizeHist) Plot(binWidth, maxSize int, caption string) string {
	bins := make([]float64, maxSize/binWidth+1)
	for size, c := range h {
		b := size / binWidth
		if b >= len(bins) {
			b = len(bins) - 1
		}
		bins[b] += c
	}
	return asciigraph.Plot(bins, asciigraph.Height(10), asciigraph.Precision(0), asciigraph.Caption(caption))
}

// Summary counts the outcome of a run.
type Summary struct {
	// Fibers is the number of records read.
	Fibers int
	// Called is the number of fibers with a full nucleosome call.
	Called int
	// Degraded is the number of fibers that only got bookends.
	Degraded int
	// NoM6A is the number of fibers without m6A calls.
	NoM6A int
	// Unparsable is the number of fibers with malformed modification tags.
	Unparsable int
	// Untagged is the number of fibers without nucleosome tags.
	Untagged int
	// Skipped is the number of fibers excluded from extraction: unmapped,
	// below the mapping quality cutoff, or outside the region.
	Skipped int
	// M6A is the total number of m6A calls used.
	M6A int
	// LiftDropped is the number of intervals lost in liftover.
	LiftDropped int
	// Mesh accumulates the per-fiber mesh statistics.
	Mesh nucleosome.MeshStats

	NucSizes SizeHist
	MSPSizes SizeHist
}

func (s *Summary) addIntervals(nucs, msps interval.Set) {
	s.NucSizes.add(nucs)
	s.MSPSizes.add(msps)
}

func (s *Summary) merge(o *Summary) {
	s.Fibers += o.Fibers
	s.Called += o.Called
	s.Degraded += o.Degraded
	s.NoM6A += o.NoM6A
	s.Unparsable += o.Unparsable
	s.Untagged += o.Untagged
	s.Skipped += o.Skipped
	s.M6A += o.M6A
	s.LiftDropped += o.LiftDropped
	s.Mesh.Add(o.Mesh)
	s.NucSizes.merge(&o.NucSizes)
	s.MSPSizes.merge(&o.MSPSizes)
}

// Log writes a one-line summary to the info log.
func (s *Summary) Log(prefix string) {
	log.Printf("%s: %d fibers, %d called, %d degraded, %d without m6A, %d unparsable, %d skipped; %d nucleosomes, %d MSPs",
		prefix, s.Fibers, s.Called, s.Degraded, s.NoM6A, s.Unparsable, s.Skipped, s.NucSizes.Count(), s.MSPSizes.Count())
	if s.Mesh.RefinementFailures > 0 || s.LiftDropped > 0 {
		log.Printf("%s: %d HMM calls without boundary evidence, %d intervals lost in liftover",
			prefix, s.Mesh.RefinementFailures, s.LiftDropped)
	}
}

// Report writes a human-readable report with size distributions to w.
func (s *Summary) Report(w io.Writer) error {
	row := func(name string, h *SizeHist) string {
		return fmt.Sprintf("%s\t%d\t%.1f\t%.0f\t%.0f\t%.0f\n", name, h.Count(), h.Mean(),
			h.Quantile(0.1), h.Quantile(0.5), h.Quantile(0.9))
	}
	_, err := fmt.Fprintf(w, "fibers\t%d\ncalled\t%d\ndegraded\t%d\nno_m6a\t%d\nunparsable\t%d\nuntagged\t%d\nskipped\t%d\nm6a\t%d\n\n"+
		"track\tcount\tmean\tq10\tq50\tq90\n%s%s\n%s\n\n%s\n",
		s.Fibers, s.Called, s.Degraded, s.NoM6A, s.Unparsable, s.Untagged, s.Skipped, s.M6A,
		row("nucleosome", &s.NucSizes), row("msp", &s.MSPSizes),
		s.NucSizes.Plot(10, 500, "nucleosome sizes, 10bp bins"),
		s.MSPSizes.Plot(10, 500, "MSP sizes, 10bp bins"))
	return err
}
