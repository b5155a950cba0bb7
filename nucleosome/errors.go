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

import (
	"fmt"

	"github.com/grailbio/fiber/encoding/modbase"
	"github.com/pkg/errors"
)

var (
	// ErrNoModifications is returned for a fiber without any m6A call.
	ErrNoModifications = errors.New("nucleosome: no m6A calls")
	// ErrInsufficientEvidence is returned, together with a degraded
	// bookend-only result, for a fiber with fewer than Opts.MinCalls calls.
	ErrInsufficientEvidence = errors.New("nucleosome: too few m6A calls")
)

// ConsistencyError reports a methylation position that does not sit on an
// informative base of the fiber.  It means fiber coordinates and the
// modification calls disagree.
type ConsistencyError struct {
	Name string
	Pos  int
	Base byte
	Len  int
}

func (e *ConsistencyError) Error() string {
	if e.Pos < 0 || e.Pos >= e.Len {
		return fmt.Sprintf("nucleosome: %s: methylation at %d outside fiber of length %d", e.Name, e.Pos, e.Len)
	}
	return fmt.Sprintf("nucleosome: %s: methylation at %d on base %q", e.Name, e.Pos, e.Base)
}

// IsFatal reports whether err must stop processing of the whole input.
func IsFatal(err error) bool {
	switch err.(type) {
	case *ConsistencyError, *modbase.MismatchError:
		return true
	}
	return false
}
