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

// Package pipeline runs nucleosome calling and BED extraction over BAM
// files.  Records are processed in batches by a pool of workers and written
// back in input order.
package pipeline

import (
	"runtime"

	"github.com/grailbio/fiber/nucleosome"
)

// Opts controls the pipeline.
type Opts struct {
	// Input is the input BAM path.
	Input string
	// Output is the output BAM path of AddNucleosomes.
	Output string
	// Parallelism is the number of worker goroutines.  0 means NumCPU.
	Parallelism int
	// BatchSize is the number of records per unit of work.
	BatchSize int
	// QueueLength bounds the number of finished batches waiting to be
	// written.
	QueueLength int
	// ModelPath is the HMM JSON file.  If empty, only the gap caller is used.
	ModelPath string
	// Caller configures nucleosome calling.
	Caller nucleosome.Opts

	// Reference makes Extract report reference coordinates.
	Reference bool
	// Region restricts reference-mode extraction, e.g. "chr1:1-1000".
	Region string
	// MinMapQ drops alignments below this mapping quality in reference mode.
	MinMapQ int
	// NucPath, MSPPath, M6APath and CpGPath are the BED12 outputs of
	// Extract.  Empty paths are not written.
	NucPath string
	MSPPath string
	M6APath string
	CpGPath string
	// Gzip compresses ".gz" BED outputs with plain gzip instead of bgzf.
	Gzip bool

	// CallsPath is the m6A call table read by AddM6A.
	CallsPath string
	// MinM6ACalls is the number of calls below which AddM6A leaves a fiber
	// untouched.
	MinM6ACalls int
}

// DefaultOpts is the default configuration.
var DefaultOpts = Opts{
	BatchSize:   256,
	QueueLength: 128,
	Caller:      nucleosome.DefaultOpts,
	MinM6ACalls: 25,
}

func (o Opts) parallelism() int {
	if o.Parallelism > 0 {
		return o.Parallelism
	}
	return runtime.NumCPU()
}

func (o Opts) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultOpts.BatchSize
}

func (o Opts) queueLength() int {
	if o.QueueLength > 0 {
		return o.QueueLength
	}
	return DefaultOpts.QueueLength
}
