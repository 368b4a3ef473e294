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

package bamqc

import "fmt"

// UnsortedStreamError is returned by Run when a mapped record starts before
// the window the stream has already advanced to.
type UnsortedStreamError struct {
	// Name is the name of the offending record.
	Name string
	// Contig and Pos locate the record (1-based).
	Contig string
	Pos    int64
	// WindowStart is the absolute start of the current window.
	WindowStart int64
}

func (e *UnsortedStreamError) Error() string {
	return fmt.Sprintf("the alignment stream is not sorted by coordinate: record %s at %s:%d precedes window start %d; sort the input by coordinate",
		e.Name, e.Contig, e.Pos, e.WindowStart)
}
