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
package nucleosome

import "github.com/grailbio/fiber/interval"

// Bookend adds synthetic calls at the fiber ends: [0, first mark) always,
// and [last mark, length) unless the gap caller already reached the end
// (terminal).  Bookends carry no evidence of a nucleosome and may have size
// zero.  With no marks the whole fiber is one bookend.
func Bookend(calls interval.Set, methylated []int, length int, terminal bool) interval.Set {
	if len(methylated) == 0 {
		return interval.Set{{Start: 0, Size: length}}
	}
	out := make(interval.Set, 0, len(calls)+2)
	out = append(out, interval.Interval{Start: 0, Size: methylated[0]})
	out = append(out, calls...)
	if !terminal {
		last := methylated[len(methylated)-1]
		out = append(out, interval.Interval{Start: last, Size: length - last})
	}
	return out
}
