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

// Package bed12 writes per-fiber interval tracks as BED12 records, one line
// per fiber with one block per interval.
package bed12

import (
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/fiber/interval"
	"github.com/grailbio/hts/bgzf"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// ErrNoBlocks is returned by NewRecord for an empty interval set.
var ErrNoBlocks = errors.New("bed12: no blocks")

const itemRGB = "0,0,0"

// Record is one BED12 line.  Block starts are relative to Start.
type Record struct {
	Chrom       string
	Start       int
	End         int
	Name        string
	Score       int
	Strand      byte
	BlockStarts []int
	BlockSizes  []int
}

// NewRecord builds a record spanning [start, end) whose blocks are the given
// intervals, in the same coordinates as start.  BED12 requires blocks to
// cover both ends of the span, so a 1bp block is added at the start and at
// the end where needed.  A block reaching past end is an error.
func NewRecord(chrom string, start, end int, name string, score int, strand byte, blocks interval.Set) (Record, error) {
	if len(blocks) == 0 {
		return Record{}, ErrNoBlocks
	}
	span := end - start
	r := Record{
		Chrom:       chrom,
		Start:       start,
		End:         end,
		Name:        name,
		Score:       score,
		Strand:      strand,
		BlockStarts: make([]int, 0, len(blocks)+2),
		BlockSizes:  make([]int, 0, len(blocks)+2),
	}
	first, last := blocks[0], blocks[len(blocks)-1]
	if first.Start-start != 0 {
		r.BlockStarts = append(r.BlockStarts, 0)
		r.BlockSizes = append(r.BlockSizes, 1)
	}
	for _, b := range blocks {
		rel := b.Start - start
		if rel < 0 || rel+b.Size > span {
			return Record{}, errors.Errorf("bed12: %s: block %v exceeds span [%d, %d)", name, b, start, end)
		}
		r.BlockStarts = append(r.BlockStarts, rel)
		r.BlockSizes = append(r.BlockSizes, b.Size)
	}
	if last.End()-start != span {
		r.BlockStarts = append(r.BlockStarts, span-1)
		r.BlockSizes = append(r.BlockSizes, 1)
	}
	return r, nil
}

// Writer writes BED12 lines.
type Writer struct {
	w *tsv.Writer
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: tsv.NewWriter(w)}
}

// Write writes one record.  The thick span equals the record span.
func (w *Writer) Write(r Record) error {
	tw := w.w
	tw.WriteString(r.Chrom)
	tw.WriteUint32(uint32(r.Start))
	tw.WriteUint32(uint32(r.End))
	tw.WriteString(r.Name)
	tw.WriteUint32(uint32(r.Score))
	tw.WriteByte(r.Strand)
	tw.WriteUint32(uint32(r.Start))
	tw.WriteUint32(uint32(r.End))
	tw.WriteString(itemRGB)
	tw.WriteUint32(uint32(len(r.BlockStarts)))
	for _, s := range r.BlockSizes {
		tw.WriteCsvUint32(uint32(s))
	}
	tw.EndCsv()
	for _, s := range r.BlockStarts {
		tw.WriteCsvUint32(uint32(s))
	}
	tw.EndCsv()
	return tw.EndLine()
}

// Flush flushes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// FileWriter is a Writer on a file created by Create.
type FileWriter struct {
	*Writer
	out  file.File
	zw   io.WriteCloser
	path string
}

// CreateOpts controls compression of files made by Create.
type CreateOpts struct {
	// Parallelism is the number of bgzf compression goroutines.
	Parallelism int
	// Gzip selects plain gzip instead of bgzf for ".gz" paths.
	Gzip bool
}

// Create creates a BED12 file at path.  Paths ending in ".gz" or ".bgz" are
// compressed, with bgzf unless opts.Gzip is set.
func Create(ctx context.Context, path string, opts CreateOpts) (*FileWriter, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "bed12.Create %s", path)
	}
	fw := &FileWriter{out: out, path: path}
	var w io.Writer = out.Writer(ctx)
	switch {
	case strings.HasSuffix(path, ".gz") && opts.Gzip:
		fw.zw = gzip.NewWriter(w)
	case strings.HasSuffix(path, ".gz"), strings.HasSuffix(path, ".bgz"):
		parallelism := opts.Parallelism
		if parallelism < 1 {
			parallelism = 1
		}
		fw.zw = bgzf.NewWriter(w, parallelism)
	}
	if fw.zw != nil {
		w = fw.zw
	}
	fw.Writer = NewWriter(w)
	return fw, nil
}

// Close flushes and closes the file.
func (fw *FileWriter) Close(ctx context.Context) (err error) {
	err = fw.Flush()
	if fw.zw != nil {
		if e := fw.zw.Close(); e != nil && err == nil {
			err = e
		}
	}
	if e := fw.out.Close(ctx); e != nil && err == nil {
		err = e
	}
	if err != nil {
		err = errors.Wrapf(err, "bed12: close %s", fw.path)
	}
	return err
}
