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

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/google/uuid"
	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/bamqc/encoding/bamprovider"
	"github.com/grailbio/bamqc/interval"
	"github.com/grailbio/bamqc/window"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/hts/sam"
)

// Run computes the QC statistics of the records of provider.  Records must be
// sorted by coordinate.  Run owns every open window and all statistics; only
// bunch processing runs on other goroutines.
func Run(ctx context.Context, provider bamprovider.Provider, opts Opts) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	header, err := provider.GetHeader()
	if err != nil {
		return nil, err
	}
	mapper, err := coord.FromHeader(header)
	if err != nil {
		return nil, err
	}
	layout, err := window.NewLayout(mapper, opts.NumWindows)
	if err != nil {
		return nil, err
	}
	if opts.Reference != nil && int64(len(opts.Reference)) != mapper.TotalSize() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("reference length %d does not match the alignment header total %d",
			len(opts.Reference), mapper.TotalSize()))
	}
	d := newDriver(opts, &env{
		layout:         layout,
		mapper:         mapper,
		reference:      opts.Reference,
		minHomopolymer: opts.MinHomopolymerSize,
	})
	if len(opts.Regions) > 0 {
		if d.env.index, err = interval.NewIndex(opts.Regions, mapper); err != nil {
			return nil, err
		}
	}
	return d.run(ctx, provider)
}

// driver is the single producer of a run.
type driver struct {
	opts     Opts
	env      *env
	maxQueue int

	// managers and stats are indexed by bucket.  The outside entries are nil
	// unless outside statistics are enabled.
	managers   [numBuckets]*window.Manager
	stats      [numBuckets]*Stats
	collectors [numBuckets]*collector

	pool     *workerPool
	inflight []*task
	bunch    []item
	// cur is the index of the current window.
	cur int
	// mainSize accumulates the selected size of the main windows as they are
	// created.
	mainSize int64

	counters      Counters
	warnings      []Warning
	fingerprint   hash.Hash64
	fpBuf         [8]byte
	progressEvery int
}

func newDriver(opts Opts, e *env) *driver {
	d := &driver{
		opts:        opts,
		env:         e,
		maxQueue:    opts.MaxQueueSize,
		fingerprint: seahash.New(),
	}
	d.progressEvery = e.layout.Len() / 10
	if d.progressEvery < 50 {
		d.progressEvery = 50
	}
	return d
}

// setup creates the managers once the region index is known.
func (d *driver) setup() {
	name := "genome"
	if d.env.index != nil {
		name = "inside"
	}
	d.stats[bucketMain] = newStats(name, d.env.layout)
	d.collectors[bucketMain] = newCollector()
	d.managers[bucketMain] = window.NewManager(d.env.layout, window.ManagerOpts{
		Reference: d.env.reference,
		Mask:      d.maskFunc(false),
		OnCreate: func(w *window.Window) {
			d.mainSize += w.SelectedSize
		},
		OnFinalized: func(w *window.Window, s *window.Summary) error {
			d.stats[bucketMain].Windows[s.Index] = s
			if d.opts.OnWindowFinalized != nil {
				return d.opts.OnWindowFinalized(w, s)
			}
			return nil
		},
	})
	if d.env.index == nil {
		return
	}
	// Reads outside the regions are always counted, even without windows.
	d.collectors[bucketOutside] = newCollector()
	if d.opts.OutsideStats {
		d.stats[bucketOutside] = newStats("outside", d.env.layout)
		d.managers[bucketOutside] = window.NewManager(d.env.layout, window.ManagerOpts{
			Reference: d.env.reference,
			Mask:      d.maskFunc(true),
			OnFinalized: func(w *window.Window, s *window.Summary) error {
				d.stats[bucketOutside].Windows[s.Index] = s
				if d.opts.OnOutsideWindowFinalized != nil {
					return d.opts.OnOutsideWindowFinalized(w, s)
				}
				return nil
			},
		})
		// Each bunch now feeds two sets of windows.
		d.maxQueue /= 2
		if d.maxQueue < 1 {
			d.maxQueue = 1
		}
	}
}

func (d *driver) maskFunc(complement bool) func(w *window.Window, bits []uintptr) int64 {
	index := d.env.index
	if index == nil {
		return nil
	}
	return func(w *window.Window, bits []uintptr) int64 {
		c := d.env.mapper.Contig(w.ContigID)
		start0 := interval.PosType(w.Start - 1 - c.Offset)
		return index.Mark(bits, w.ContigID, start0, start0+interval.PosType(w.Len()), complement)
	}
}

func (d *driver) run(ctx context.Context, provider bamprovider.Provider) (*Result, error) {
	d.setup()
	if index := d.env.index; index != nil && index.NumSkipped() > 0 {
		var names []string
		for _, u := range index.UnknownContigs() {
			if u.Suggestion != "" {
				names = append(names, fmt.Sprintf("%s (did you mean %s?)", u.Name, u.Suggestion))
			} else {
				names = append(names, u.Name)
			}
		}
		d.warn(WarningRegionsNotLoaded, fmt.Sprintf("%d regions on contigs missing from the alignment header were skipped: %s",
			index.NumSkipped(), strings.Join(names, ", ")))
	}

	d.pool = newWorkerPool(d.env, d.opts.Parallelism, d.maxQueue)
	err := d.consume(ctx, provider)
	if perr := d.pool.shutdown(); err == nil {
		err = perr
	}
	if err != nil {
		return nil, err
	}
	return d.result(), nil
}

// consume reads the whole stream and finalizes every window.
func (d *driver) consume(ctx context.Context, provider bamprovider.Provider) error {
	iter := provider.NewIterator()
	for iter.Scan() {
		if err := d.add(ctx, iter.Record()); err != nil {
			_ = iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}
	if d.counters.Reads == 0 {
		return errors.E(errors.Invalid, "the alignment stream has no reads")
	}
	if err := d.drain(); err != nil {
		return err
	}
	for ; d.cur < d.env.layout.Len(); d.cur++ {
		if err := d.finalizeCurrent(); err != nil {
			return err
		}
	}
	for _, m := range d.managers {
		if m == nil {
			continue
		}
		if err := m.Flush(); err != nil {
			return err
		}
	}
	log.Printf("bamqc: processed %d windows, %d reads", d.env.layout.Len(), d.counters.Reads)
	return nil
}

// expectForward reports whether r is expected on the forward strand of its
// transcript under protocol p.  Unpaired reads are treated as first of pair.
func expectForward(r *sam.Record, p Protocol) bool {
	forward := r.Flags&sam.Reverse == 0
	paired := r.Flags&sam.Paired != 0
	first := r.Flags&sam.Read1 != 0 && paired
	second := r.Flags&sam.Read2 != 0 && paired
	if p == StrandSpecificReverse {
		// Unpaired reads never match the reverse protocol.
		return (first && !forward) || (second && forward)
	}
	return ((first || !paired) && forward) || (second && !forward)
}

// validate classifies a mapped record.  It returns false for records the run
// cannot place.
func (d *driver) validate(r *sam.Record) bool {
	if r.Ref == nil || r.Ref.ID() < 0 || r.Ref.ID() >= d.env.mapper.NumContigs() {
		return false
	}
	if r.Pos < 0 || r.Pos >= r.Ref.Len() {
		return false
	}
	if r.Seq.Length > 0 && len(r.Cigar) > 0 && !r.Cigar.IsValid(r.Seq.Length) {
		return false
	}
	if r.End() <= r.Pos {
		d.counters.ReadsWithStartGreaterThanEnd++
		return false
	}
	return true
}

// add processes one record of the stream.
func (d *driver) add(ctx context.Context, r *sam.Record) error {
	d.counters.addReadSize(r.Seq.Length)
	if r.Flags&sam.Secondary != 0 {
		d.counters.SecondaryAlignments++
		return nil
	}
	if r.Flags&sam.Supplementary == 0 {
		d.counters.Reads++
	}
	if r.Flags&sam.Unmapped != 0 {
		d.counters.UnmappedReads++
		return nil
	}
	if !d.validate(r) {
		d.counters.ProblematicReads++
		return nil
	}
	id := r.Ref.ID()
	abs := d.env.mapper.AbsoluteByID(id, int64(r.Pos)+1)
	layout := d.env.layout
	if abs < layout.Start(d.cur) {
		return &UnsortedStreamError{Name: r.Name, Contig: r.Ref.Name(), Pos: int64(r.Pos) + 1, WindowStart: layout.Start(d.cur)}
	}

	bucket := bucketMain
	if index := d.env.index; index != nil {
		start, end := int64(r.Pos)+1, int64(r.End())
		if end > int64(r.Ref.Len()) {
			end = int64(r.Ref.Len())
		}
		var overlaps bool
		if d.opts.Protocol == NonStrandSpecific {
			overlaps = index.OverlapsID(id, start, end)
		} else {
			res := index.OverlapsStrandedID(id, start, end, expectForward(r, d.opts.Protocol))
			overlaps = res.IntervalOverlaps
			if res.StrandMatches {
				d.counters.CorrectStrandReads++
			}
		}
		if !overlaps {
			bucket = bucketOutside
		}
	}

	col := d.collectors[bucket]
	if col.update(r) && d.opts.DuplicateMode.skipFlagged() {
		d.counters.DuplicatesSkipped++
		return nil
	}
	if col.dups.add(abs, r) && d.opts.DuplicateMode.skipEstimated() {
		d.counters.DuplicatesSkipped++
		return nil
	}
	if d.opts.CollectOverlappingPairs {
		col.collectPair(r)
	}
	col.addInsertSize(r)
	if d.managers[bucket] == nil {
		return nil
	}

	if abs > layout.End(d.cur) {
		if err := d.advance(ctx, abs, id, r.Pos); err != nil {
			return err
		}
	}
	d.addFingerprint(abs, bucket, r)
	d.counters.AccumulatedReads++
	d.bunch = append(d.bunch, item{rec: r, bucket: bucket})
	if len(d.bunch) >= d.opts.BunchSize {
		if len(d.inflight) >= d.maxQueue {
			return d.drain()
		}
		d.submit()
	}
	return nil
}

func (d *driver) addFingerprint(abs int64, bucket int, r *sam.Record) {
	binary.LittleEndian.PutUint64(d.fpBuf[:], uint64(abs))
	d.fingerprint.Write(d.fpBuf[:]) // nolint: errcheck
	binary.LittleEndian.PutUint64(d.fpBuf[:], uint64(r.Flags)<<32|uint64(r.MapQ)<<8|uint64(bucket))
	d.fingerprint.Write(d.fpBuf[:])                    // nolint: errcheck
	d.fingerprint.Write(gunsafe.StringToBytes(r.Name)) // nolint: errcheck
}

// advance finalizes windows until the one containing abs is current.
func (d *driver) advance(ctx context.Context, abs int64, refID, pos int) error {
	if err := d.drain(); err != nil {
		return err
	}
	for abs > d.env.layout.End(d.cur) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.finalizeCurrent(); err != nil {
			return err
		}
		d.cur++
	}
	for _, c := range d.collectors {
		if c != nil {
			c.prune(refID, pos)
		}
	}
	return nil
}

func (d *driver) finalizeCurrent() error {
	for _, m := range d.managers {
		if m == nil {
			continue
		}
		if err := m.Finalize(m.Get(d.cur)); err != nil {
			return err
		}
	}
	if n := d.cur + 1; n%d.progressEvery == 0 {
		log.Printf("bamqc: processed %d of %d windows", n, d.env.layout.Len())
	}
	return nil
}

// submit hands the current bunch to the pool.
func (d *driver) submit() {
	d.inflight = append(d.inflight, d.pool.submit(d.bunch, d.cur))
	d.bunch = make([]item, 0, d.opts.BunchSize)
}

// drain submits the current bunch and applies every in-flight delta, in
// submission order.
func (d *driver) drain() error {
	if len(d.bunch) > 0 {
		d.submit()
	}
	for i, t := range d.inflight {
		delta, err := t.wait()
		if err != nil {
			d.inflight = d.inflight[i+1:]
			return err
		}
		d.apply(delta)
	}
	d.inflight = d.inflight[:0]
	return nil
}

func (d *driver) apply(delta *Delta) {
	for b, parts := range delta.windows {
		m := d.managers[b]
		if m == nil {
			continue
		}
		for index, p := range parts {
			if index < d.cur {
				log.Panicf("bamqc: delta for finalized window %d (current %d)", index, d.cur)
			}
			p.applyTo(m.Get(index))
		}
		d.stats[b].ReadTallies.add(&delta.tallies[b])
	}
}

func (d *driver) warn(name, message string) {
	log.Error.Printf("bamqc: WARNING: %s: %s", name, message)
	d.warnings = append(d.warnings, Warning{Name: name, Message: message})
}

// result assembles the Result after the stream is consumed.
func (d *driver) result() *Result {
	total := d.env.mapper.TotalSize()
	genome := d.stats[bucketMain]
	genome.ReferenceSize = total
	if d.env.index != nil {
		genome.ReferenceSize = d.mainSize
	}
	if out := d.stats[bucketOutside]; out != nil {
		out.ReferenceSize = total - d.mainSize
	}

	var (
		buckets []*Stats
		flags   FlagCounts
	)
	for b, col := range d.collectors {
		if col == nil {
			continue
		}
		flags.add(col.flags)
		if s := d.stats[b]; s != nil {
			s.absorb(col)
			buckets = append(buckets, s)
		}
	}
	if d.counters.Reads+d.counters.SecondaryAlignments > 0 {
		d.counters.MeanReadSize = float64(d.counters.ReadSizeSum) / float64(d.counters.Reads+d.counters.SecondaryAlignments)
	}
	if n := d.counters.ReadsWithStartGreaterThanEnd; n > 0 {
		d.warn(WarningStartGreaterThanEnd, fmt.Sprintf("%d mapped reads end before they start and were skipped", n))
	}
	if d.opts.DuplicateMode.skipFlagged() && flags.FlaggedDuplicates == 0 {
		d.warn(WarningNoFlaggedDups, "make sure duplicate alignments are flagged in the input or use a different duplicate mode")
	}

	var describe []*Stats
	for _, s := range buckets {
		if s.Flags.MappedReads == 0 {
			msg := "total number of mapped reads equals zero"
			if d.env.index != nil {
				msg = fmt.Sprintf("number of mapped reads %s the regions equals zero", s.Name)
			}
			d.warn(WarningNoMappedReads, msg)
			continue
		}
		describe = append(describe, s)
	}
	// Descriptors touch only their own Stats.
	_ = traverse.Each(len(describe), func(i int) error {
		describe[i].computeDescriptors(d.env.layout)
		return nil
	})

	return &Result{
		RunID:       uuid.New().String(),
		Genome:      genome,
		Outside:     d.stats[bucketOutside],
		Counters:    d.counters,
		TotalFlags:  flags,
		Warnings:    d.warnings,
		Layout:      d.env.layout,
		Fingerprint: d.fingerprint.Sum64(),
	}
}
