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
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/fiber/encoding/modbase"
	"github.com/grailbio/fiber/fiber"
	"github.com/grailbio/fiber/interval"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ivs = interval.Set

func newHeader(t *testing.T) (*sam.Header, *sam.Reference) {
	ref, err := sam.NewReference("chr1", "", "", 100000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)
	return header, ref
}

func newFiberRecord(t *testing.T, name string, ref *sam.Reference, pos int, flags sam.Flags,
	cigar sam.Cigar, seq string, marks []int) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MatePos = -1
	r.Flags = flags
	r.MapQ = 60
	r.Cigar = cigar
	r.Seq = sam.NewSeq([]byte(seq))
	r.Qual = bytes.Repeat([]byte{30}, len(seq))
	if len(marks) > 0 {
		mm, ml, err := modbase.EncodeM6A([]byte(seq), marks)
		require.NoError(t, err)
		require.NoError(t, modbase.AppendTags(r, mm, ml))
	}
	return r
}

func writeBAM(t *testing.T, path string, header *sam.Header, recs []*sam.Record) {
	ctx := context.Background()
	out, err := file.Create(ctx, path)
	require.NoError(t, err)
	w, err := bam.NewWriter(out.Writer(ctx), header, 1)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close(ctx))
}

func readBAM(t *testing.T, path string) []*sam.Record {
	ctx := context.Background()
	in, err := file.Open(ctx, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, in.Close(ctx)) }()
	r, err := bam.NewReader(in.Reader(ctx), 1)
	require.NoError(t, err)
	var recs []*sam.Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.NoError(t, r.Close())
	return recs
}

func readLines(t *testing.T, path string) []string {
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	return strings.SplitAfter(strings.TrimSuffix(string(data), "\n"), "\n")
}

// testFibers returns an untagged input: a called fiber, a fiber without
// m6A calls, and a fiber with a single call.
func testFibers(t *testing.T, ref *sam.Reference) []*sam.Record {
	return []*sam.Record{
		newFiberRecord(t, "r1", ref, 1000, 0, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 300)},
			strings.Repeat("A", 300), []int{10, 12, 100, 103, 250}),
		newFiberRecord(t, "r2", nil, -1, sam.Unmapped, nil, strings.Repeat("A", 50), nil),
		newFiberRecord(t, "r3", nil, -1, sam.Unmapped, nil, strings.Repeat("A", 10), []int{3}),
	}
}

func testOpts(dir string) Opts {
	opts := DefaultOpts
	opts.Input = filepath.Join(dir, "in.bam")
	opts.Output = filepath.Join(dir, "out.bam")
	opts.Parallelism = 3
	opts.BatchSize = 1
	return opts
}

func TestAddNucleosomes(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header, ref := newHeader(t)
	opts := testOpts(dir)
	writeBAM(t, opts.Input, header, testFibers(t, ref))

	summary, err := AddNucleosomes(context.Background(), opts)
	require.NoError(t, err)
	expect.EQ(t, summary.Fibers, 3)
	expect.EQ(t, summary.Called, 1)
	expect.EQ(t, summary.Degraded, 1)
	expect.EQ(t, summary.NoM6A, 1)
	expect.EQ(t, summary.M6A, 6)

	recs := readBAM(t, opts.Output)
	require.Len(t, recs, 3)
	var names []string
	for _, r := range recs {
		names = append(names, r.Name)
	}
	expect.EQ(t, names, []string{"r1", "r2", "r3"})

	nucs, ok, err := getIntervals(recs[0], nucStartTag, nucLenTag)
	require.NoError(t, err)
	require.True(t, ok)
	expect.EQ(t, nucs, ivs{{0, 10}, {13, 87}, {104, 146}, {250, 50}})
	msps, ok, err := getIntervals(recs[0], mspStartTag, mspLenTag)
	require.NoError(t, err)
	require.True(t, ok)
	expect.EQ(t, msps, ivs{{10, 3}, {100, 4}})

	_, ok, err = getIntervals(recs[1], nucStartTag, nucLenTag)
	require.NoError(t, err)
	assert.False(t, ok)

	nucs, ok, err = getIntervals(recs[2], nucStartTag, nucLenTag)
	require.NoError(t, err)
	require.True(t, ok)
	expect.EQ(t, nucs, ivs{{0, 3}, {3, 7}})
}

func TestAddNucleosomesRetags(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header, ref := newHeader(t)
	opts := testOpts(dir)
	recs := testFibers(t, ref)
	require.NoError(t, setIntervals(recs[0], nucStartTag, nucLenTag, ivs{{1, 2}}))
	writeBAM(t, opts.Input, header, recs)

	_, err := AddNucleosomes(context.Background(), opts)
	require.NoError(t, err)
	out := readBAM(t, opts.Output)
	n := 0
	for _, aux := range out[0].AuxFields {
		if aux.Tag() == nucStartTag {
			n++
		}
	}
	expect.EQ(t, n, 1)
	nucs, _, err := getIntervals(out[0], nucStartTag, nucLenTag)
	require.NoError(t, err)
	expect.EQ(t, nucs, ivs{{0, 10}, {13, 87}, {104, 146}, {250, 50}})
}

func TestAddNucleosomesFatal(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header, ref := newHeader(t)
	opts := testOpts(dir)
	bad := newFiberRecord(t, "bad", nil, -1, sam.Unmapped, nil, "AAA", nil)
	require.NoError(t, modbase.AppendTags(bad, "A+a,5;", []uint8{255}))
	writeBAM(t, opts.Input, header, append(testFibers(t, ref), bad))

	_, err := AddNucleosomes(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs base occurrence")
}

func TestExtractFiber(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header, ref := newHeader(t)
	opts := testOpts(dir)
	writeBAM(t, opts.Input, header, testFibers(t, ref))
	_, err := AddNucleosomes(context.Background(), opts)
	require.NoError(t, err)

	opts.Input = opts.Output
	opts.NucPath = filepath.Join(dir, "nuc.bed")
	opts.MSPPath = filepath.Join(dir, "msp.bed")
	opts.M6APath = filepath.Join(dir, "m6a.bed")
	summary, err := Extract(context.Background(), opts)
	require.NoError(t, err)
	expect.EQ(t, summary.Fibers, 3)
	expect.EQ(t, summary.Untagged, 1)

	expect.EQ(t, readLines(t, opts.NucPath), []string{
		"r1\t0\t300\tr1\t0\t+\t0\t300\t0,0,0\t4\t10,87,146,50\t0,13,104,250\n",
		"r3\t0\t10\tr3\t0\t+\t0\t10\t0,0,0\t2\t3,7\t0,3\n",
	})
	expect.EQ(t, readLines(t, opts.MSPPath), []string{
		"r1\t0\t300\tr1\t0\t+\t0\t300\t0,0,0\t4\t1,3,4,1\t0,10,100,299\n",
	})
	expect.EQ(t, readLines(t, opts.M6APath), []string{
		"r1\t0\t300\tr1\t0\t+\t0\t300\t0,0,0\t7\t1,1,1,1,1,1,1\t0,10,12,100,103,250,299\n",
		"r3\t0\t10\tr3\t0\t+\t0\t10\t0,0,0\t3\t1,1,1\t0,3,9\n",
	})
}

func TestExtractReference(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header, ref := newHeader(t)
	opts := testOpts(dir)
	writeBAM(t, opts.Input, header, testFibers(t, ref))
	_, err := AddNucleosomes(context.Background(), opts)
	require.NoError(t, err)

	opts.Input = opts.Output
	opts.Reference = true
	opts.NucPath = filepath.Join(dir, "nuc.bed")
	summary, err := Extract(context.Background(), opts)
	require.NoError(t, err)
	expect.EQ(t, summary.Skipped, 2)
	// The read end clamps to the last aligned base.
	expect.EQ(t, readLines(t, opts.NucPath), []string{
		"chr1\t1000\t1300\tr1\t0\t+\t1000\t1300\t0,0,0\t5\t10,87,146,49,1\t0,13,104,250,299\n",
	})

	opts.Region = "chr1:2000-3000"
	summary, err = Extract(context.Background(), opts)
	require.NoError(t, err)
	expect.EQ(t, summary.Skipped, 3)
	data, err := ioutil.ReadFile(opts.NucPath)
	require.NoError(t, err)
	expect.EQ(t, len(data), 0)

	opts.Region = "chr1:1-1001"
	opts.MinMapQ = 61
	summary, err = Extract(context.Background(), opts)
	require.NoError(t, err)
	expect.EQ(t, summary.Skipped, 3)
}

func TestExtractRegionNeedsReference(t *testing.T) {
	opts := DefaultOpts
	opts.Region = "chr1:1-100"
	_, err := Extract(context.Background(), opts)
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header, ref := newHeader(t)
	opts := testOpts(dir)
	writeBAM(t, opts.Input, header, testFibers(t, ref))
	_, err := AddNucleosomes(context.Background(), opts)
	require.NoError(t, err)

	summary, err := Stats(context.Background(), opts.Output, opts)
	require.NoError(t, err)
	expect.EQ(t, summary.Fibers, 3)
	expect.EQ(t, summary.Called, 2)
	expect.EQ(t, summary.Untagged, 1)
	expect.EQ(t, summary.NoM6A, 1)
	expect.EQ(t, summary.NucSizes.Count(), 6)
	expect.EQ(t, summary.MSPSizes.Count(), 2)
	expect.EQ(t, summary.NucSizes.Quantile(1), 146.0)

	var buf bytes.Buffer
	require.NoError(t, summary.Report(&buf))
	assert.Contains(t, buf.String(), "fibers\t3\n")
	assert.Contains(t, buf.String(), "nucleosome sizes")
}

func TestAddM6A(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header, _ := newHeader(t)
	opts := testOpts(dir)
	opts.CallsPath = filepath.Join(dir, "calls.tsv")
	opts.MinM6ACalls = 2
	writeBAM(t, opts.Input, header, []*sam.Record{
		newFiberRecord(t, "m1", nil, -1, sam.Unmapped, nil, "AATTCGAATT", nil),
		newFiberRecord(t, "m2", nil, -1, sam.Unmapped, nil, "AAAA", nil),
		newFiberRecord(t, "m3", nil, -1, sam.Unmapped, nil, "AAAA", nil),
	})
	require.NoError(t, ioutil.WriteFile(opts.CallsPath,
		[]byte("read\tpos\n# from the aligner\nm1\t9\nm2\t1\nm1\t0\nm1\t2\n"), 0600))

	summary, err := AddM6A(context.Background(), opts)
	require.NoError(t, err)
	expect.EQ(t, summary.Fibers, 3)
	expect.EQ(t, summary.Called, 1)
	expect.EQ(t, summary.Skipped, 1)
	expect.EQ(t, summary.NoM6A, 1)
	expect.EQ(t, summary.M6A, 3)

	recs := readBAM(t, opts.Output)
	require.Len(t, recs, 3)
	f, err := fiber.New(recs[0])
	require.NoError(t, err)
	expect.EQ(t, f.M6A(255), []int{0, 2, 9})
	for _, r := range recs[1:] {
		f, err := fiber.New(r)
		require.NoError(t, err)
		assert.Empty(t, f.M6A(0), r.Name)
	}

	// The marked output feeds the nucleosome caller.
	opts.Input = opts.Output
	opts.Output = filepath.Join(dir, "nuc.bam")
	summary, err = AddNucleosomes(context.Background(), opts)
	require.NoError(t, err)
	expect.EQ(t, summary.M6A, 3)
	expect.EQ(t, summary.NoM6A, 2)
}

func TestAddM6AFatal(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header, _ := newHeader(t)
	opts := testOpts(dir)
	opts.CallsPath = filepath.Join(dir, "calls.tsv")
	opts.MinM6ACalls = 1
	writeBAM(t, opts.Input, header, []*sam.Record{
		newFiberRecord(t, "m1", nil, -1, sam.Unmapped, nil, "AATTCGAATT", nil),
	})
	// Position 4 is a C.
	require.NoError(t, ioutil.WriteFile(opts.CallsPath, []byte("read\tpos\nm1\t4\n"), 0600))
	_, err := AddM6A(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "m1")

	require.NoError(t, ioutil.WriteFile(opts.CallsPath, []byte("name\tpos\nm1\t0\n"), 0600))
	_, err = AddM6A(context.Background(), opts)
	assert.Error(t, err)
}
