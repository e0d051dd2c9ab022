package tinyptr

import (
	"context"
	"math"
	"sort"

	"github.com/crystal-tensor/svdb/backend"
	"github.com/crystal-tensor/svdb/internal/bitset"
	"github.com/crystal-tensor/svdb/internal/hash"
	"github.com/crystal-tensor/svdb/model"
)

type bucketEntry struct {
	keyIdx  uint32
	keyHash uint64
}

// Build constructs an index over keys and returns it together with the slot
// assignment of every input key, in input order. The backend drives the
// per-bucket pilot search. Construction is deterministic for a given key
// set, seed, and backend seed.
func Build(ctx context.Context, be backend.Backend, keys []model.Key, optFns ...func(*Options)) (*Index, []model.SlotAssignment, error) {
	opts := Options{
		LoadFactor: DefaultLoadFactor,
		PilotMax:   DefaultPilotMax,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.LoadFactor <= 0 || opts.LoadFactor > 1 {
		opts.LoadFactor = DefaultLoadFactor
	}
	if opts.PilotMax == 0 {
		opts.PilotMax = DefaultPilotMax
	}

	n := len(keys)
	if n == 0 {
		return nil, nil, ErrEmptyInput
	}

	seen := make(map[model.Key]struct{}, n)
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			return nil, nil, &DuplicateKeyError{Key: k}
		}
		seen[k] = struct{}{}
	}

	m := uint32(math.Ceil(float64(n) / opts.LoadFactor))
	if m < uint32(n) {
		m = uint32(n)
	}
	numBuckets := uint32((n + avgBucketSize - 1) / avgBucketSize)
	if numBuckets == 0 {
		numBuckets = 1
	}

	// Hash once per key and group by bucket.
	keyHashes := make([]uint64, n)
	buckets := make([][]bucketEntry, numBuckets)
	for i, k := range keys {
		kh := hash.KeyHash(opts.Seed, k[:])
		keyHashes[i] = kh
		b := hash.BucketOf(kh, numBuckets)
		buckets[b] = append(buckets[b], bucketEntry{keyIdx: uint32(i), keyHash: kh})
	}

	// Place the hardest buckets while the table is emptiest.
	order := make([]uint32, numBuckets)
	for i := range order {
		order[i] = uint32(i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		la, lb := len(buckets[order[a]]), len(buckets[order[b]])
		if la != lb {
			return la > lb
		}
		return order[a] < order[b]
	})

	occupied := bitset.New(m)
	pilots := make([]uint32, numBuckets)
	slots := make([]model.Slot, n)
	occupiedCount := uint32(0)

	for _, b := range order {
		entries := buckets[b]
		if len(entries) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		pilot, err := searchPilot(ctx, be, entries, opts.Seed, m, occupied, occupiedCount, b, opts.PilotMax)
		if err != nil {
			return nil, nil, err
		}

		pilots[b] = pilot
		for _, e := range entries {
			pos := hash.Position(e.keyHash, opts.Seed, pilot, m)
			occupied.Set(pos)
			slots[e.keyIdx] = model.Slot(pos)
		}
		occupiedCount += uint32(len(entries))
	}

	freeSlots := make([]model.Slot, 0, m-uint32(n))
	for s := uint32(0); s < m; s++ {
		if !occupied.Test(s) {
			freeSlots = append(freeSlots, model.Slot(s))
		}
	}

	idx := &Index{
		n:          uint32(n),
		m:          m,
		numBuckets: numBuckets,
		seed:       opts.Seed,
		minimal:    opts.Minimal,
		pilots:     pilots,
		freeSlots:  freeSlots,
	}

	if opts.Minimal {
		idx.remap = buildRemap(uint32(n), m, occupied)
		idx.freeSlots = nil
		for i, s := range slots {
			if uint32(s) >= uint32(n) {
				slots[i] = idx.remap[uint32(s)-uint32(n)]
			}
		}
	}

	assignments := make([]model.SlotAssignment, n)
	for i, k := range keys {
		assignments[i] = model.SlotAssignment{Key: k, Slot: slots[i]}
	}
	return idx, assignments, nil
}

// buildRemap maps every occupied position at or above n onto a free position
// below n, both sides taken in ascending order.
func buildRemap(n, m uint32, occupied *bitset.BitSet) []model.Slot {
	remap := make([]model.Slot, m-n)
	free := uint32(0)
	for pos := n; pos < m; pos++ {
		if !occupied.Test(pos) {
			continue
		}
		for occupied.Test(free) {
			free++
		}
		remap[pos-n] = model.Slot(free)
		free++
	}
	return remap
}

// searchPilot finds a pilot that displaces all bucket entries into distinct
// free slots. The pilot domain grows geometrically on failure before the
// bucket is declared unplaceable.
func searchPilot(ctx context.Context, be backend.Backend, entries []bucketEntry, seed uint64, m uint32, occupied *bitset.BitSet, occupiedCount, bucket uint32, pilotMax uint64) (uint32, error) {
	taken := make([]uint32, 0, len(entries))
	oracle := func(_ context.Context, pilot uint64) (bool, error) {
		taken = taken[:0]
		for _, e := range entries {
			pos := hash.Position(e.keyHash, seed, uint32(pilot), m)
			if occupied.Test(pos) {
				return false, nil
			}
			for _, t := range taken {
				if t == pos {
					return false, nil
				}
			}
			taken = append(taken, pos)
		}
		return true, nil
	}

	domain := pilotMax
	for expansion := 0; expansion <= maxPilotExpansions; expansion++ {
		pilot, found, err := be.Amplify(ctx, oracle, domain, pilotEstimate(domain, m, occupiedCount, len(entries)))
		if err != nil {
			return 0, err
		}
		if found {
			return uint32(pilot), nil
		}
		domain *= pilotGrowthFactor
	}
	return 0, &PilotExhaustedError{Bucket: bucket, PilotMax: domain / pilotGrowthFactor}
}

// pilotEstimate approximates how many pilots in the domain satisfy the
// placement oracle, assuming independent uniform positions.
func pilotEstimate(domain uint64, m, occupiedCount uint32, bucketSize int) uint64 {
	freeFrac := float64(m-occupiedCount) / float64(m)
	p := math.Pow(freeFrac, float64(bucketSize))
	est := uint64(p * float64(domain))
	if est == 0 {
		est = 1
	}
	return est
}
