package engine

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/crystal-tensor/svdb/backend"
	"github.com/crystal-tensor/svdb/internal/block"
	"github.com/crystal-tensor/svdb/internal/hash"
	"github.com/crystal-tensor/svdb/model"
	"github.com/crystal-tensor/svdb/tinyptr"
	"github.com/crystal-tensor/svdb/vectorstore"
)

// Snapshot container layout: a fixed magic and format version, then a
// sequence of sections. Each section is framed as
//
//	[id u8][compression u8][length u32][crc32c u32][payload]
//
// where length and the checksum cover the stored (possibly compressed)
// payload. Sections appear in a fixed order; the store section is the
// largest and is zstd-compressed.
var snapshotMagic = [4]byte{'S', 'V', 'D', 'B'}

const snapshotFormatVersion = 1

const (
	sectionMeta    = 1
	sectionIndex   = 2
	sectionStore   = 3
	sectionPending = 4
)

// SaveTo writes a restorable snapshot of the coordinator to w.
func (c *Coordinator) SaveTo(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := c.current.Load()
	if snap == nil {
		return ErrNotBuilt
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := bw.WriteByte(snapshotFormatVersion); err != nil {
		return err
	}

	if err := writeSection(bw, sectionMeta, c.encodeMeta(snap), block.None); err != nil {
		return err
	}

	var indexBytes []byte
	if snap.Index != nil {
		var err error
		indexBytes, err = snap.Index.MarshalBinary()
		if err != nil {
			return err
		}
	}
	if err := writeSection(bw, sectionIndex, indexBytes, block.ZSTD); err != nil {
		return err
	}

	storeBytes, err := snap.Store.MarshalBinary()
	if err != nil {
		return err
	}
	if err := writeSection(bw, sectionStore, storeBytes, block.ZSTD); err != nil {
		return err
	}

	if err := writeSection(bw, sectionPending, c.encodePending(), block.None); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadFrom restores a coordinator saved with SaveTo, attaching the given
// backend for subsequent rebuilds and searches.
func LoadFrom(r io.Reader, be backend.Backend) (*Coordinator, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("engine: read snapshot magic: %w", err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("engine: bad snapshot magic %q", magic)
	}
	ver, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	if ver != snapshotFormatVersion {
		return nil, fmt.Errorf("engine: unsupported snapshot format version %d", ver)
	}

	meta, err := readSection(br, sectionMeta)
	if err != nil {
		return nil, err
	}
	c, hasIndex, snapVersion, err := decodeMeta(meta, be)
	if err != nil {
		return nil, err
	}

	indexBytes, err := readSection(br, sectionIndex)
	if err != nil {
		return nil, err
	}
	var idx *tinyptr.Index
	if hasIndex {
		idx = new(tinyptr.Index)
		if err := idx.UnmarshalBinary(indexBytes); err != nil {
			return nil, err
		}
	}

	storeBytes, err := readSection(br, sectionStore)
	if err != nil {
		return nil, err
	}
	store := new(vectorstore.Store)
	if err := store.UnmarshalBinary(storeBytes); err != nil {
		return nil, err
	}

	pendingBytes, err := readSection(br, sectionPending)
	if err != nil {
		return nil, err
	}
	if err := c.decodePending(pendingBytes); err != nil {
		return nil, err
	}

	// Free slots are whatever the index left over minus the parked entries.
	if idx != nil {
		parked := make(map[model.Slot]bool, len(c.pending))
		for _, slot := range c.pending {
			parked[slot] = true
		}
		for _, slot := range idx.FreeSlots() {
			if !parked[slot] {
				c.freeSlots = append(c.freeSlots, slot)
			}
		}
	}

	c.current.Store(&Snapshot{Index: idx, Store: store, Version: snapVersion})
	return c, nil
}

func (c *Coordinator) encodeMeta(snap *Snapshot) []byte {
	buf := make([]byte, 0, 64)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(c.dim))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.opts.LoadFactor))
	buf = binary.LittleEndian.AppendUint64(buf, c.opts.Seed)
	if c.opts.Minimal {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.opts.RebuildFraction))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(c.threshold))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(snap.Version))
	buf = binary.LittleEndian.AppendUint64(buf, c.rebuilds.Load())
	if snap.Index != nil {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeMeta(data []byte, be backend.Backend) (*Coordinator, bool, model.Version, error) {
	if len(data) != 50 {
		return nil, false, 0, fmt.Errorf("engine: malformed snapshot metadata")
	}
	dim := int(binary.LittleEndian.Uint32(data[0:]))
	loadFactor := math.Float64frombits(binary.LittleEndian.Uint64(data[4:]))
	seed := binary.LittleEndian.Uint64(data[12:])
	minimal := data[20] != 0
	fraction := math.Float64frombits(binary.LittleEndian.Uint64(data[21:]))
	threshold := int(binary.LittleEndian.Uint32(data[29:]))
	version := model.Version(binary.LittleEndian.Uint64(data[33:]))
	rebuilds := binary.LittleEndian.Uint64(data[41:])
	hasIndex := data[49] != 0

	c, err := NewCoordinator(be, dim,
		WithLoadFactor(loadFactor),
		WithSeed(seed),
		WithMinimal(minimal),
		WithRebuildFraction(fraction),
	)
	if err != nil {
		return nil, false, 0, err
	}
	c.threshold = threshold
	c.version = version
	c.rebuilds.Store(rebuilds)
	return c, hasIndex, version, nil
}

func (c *Coordinator) encodePending() []byte {
	buf := make([]byte, 0, 4+len(c.pending)*(model.KeySize+4))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.pending)))
	for key, slot := range c.pending {
		buf = append(buf, key[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(slot))
	}
	return buf
}

func (c *Coordinator) decodePending(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("engine: malformed pending section")
	}
	count := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+count*(model.KeySize+4) {
		return fmt.Errorf("engine: malformed pending section")
	}
	off := 4
	for i := 0; i < count; i++ {
		var key model.Key
		copy(key[:], data[off:off+model.KeySize])
		off += model.KeySize
		c.pending[key] = model.Slot(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	return nil
}

func writeSection(w io.Writer, id byte, payload []byte, comp block.Compression) error {
	stored, err := block.Compress(payload, comp)
	if err != nil {
		return err
	}
	head := make([]byte, 10)
	head[0] = id
	head[1] = byte(comp)
	binary.LittleEndian.PutUint32(head[2:], uint32(len(stored)))
	binary.LittleEndian.PutUint32(head[6:], hash.CRC32C(stored))
	if _, err := w.Write(head); err != nil {
		return err
	}
	_, err = w.Write(stored)
	return err
}

func readSection(r io.Reader, wantID byte) ([]byte, error) {
	head := make([]byte, 10)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("engine: read section header: %w", err)
	}
	if head[0] != wantID {
		return nil, fmt.Errorf("engine: expected section %d, got %d", wantID, head[0])
	}
	comp := block.Compression(head[1])
	length := binary.LittleEndian.Uint32(head[2:])
	sum := binary.LittleEndian.Uint32(head[6:])

	stored := make([]byte, length)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, fmt.Errorf("engine: read section %d: %w", wantID, err)
	}
	if hash.CRC32C(stored) != sum {
		return nil, fmt.Errorf("engine: section %d checksum mismatch", wantID)
	}
	return block.Decompress(stored, comp)
}
