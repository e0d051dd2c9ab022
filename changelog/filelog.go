package changelog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystal-tensor/svdb/internal/hash"
	"github.com/crystal-tensor/svdb/model"
)

// ErrCorruptRecord is returned by ReadAll when an entry fails its checksum
// or length check. Entries before the corruption are still returned.
var ErrCorruptRecord = errors.New("changelog: corrupt record")

const defaultBufferSize = 1024

// FileLog appends records to a file through a background writer. Notify
// never blocks: when the buffer is full the record is dropped and counted.
type FileLog struct {
	ch      chan Record
	dropped atomic.Uint64
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	err     atomic.Pointer[error]
}

// OpenFileLog opens (or creates) a journal file for appending.
func OpenFileLog(path string, optFns ...func(o *FileLogOptions)) (*FileLog, error) {
	opts := FileLogOptions{BufferSize: defaultBufferSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = defaultBufferSize
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("changelog: open %s: %w", path, err)
	}

	l := &FileLog{
		ch:   make(chan Record, opts.BufferSize),
		done: make(chan struct{}),
	}
	go l.run(f)
	return l, nil
}

// FileLogOptions configures OpenFileLog.
type FileLogOptions struct {
	// BufferSize is the in-memory record queue length.
	BufferSize int
}

// Notify enqueues a record. Records are dropped, not blocked on, when the
// writer cannot keep up.
func (l *FileLog) Notify(rec Record) {
	select {
	case l.ch <- rec:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns how many records were discarded due to backpressure.
func (l *FileLog) Dropped() uint64 { return l.dropped.Load() }

// Close flushes buffered records and closes the file.
func (l *FileLog) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.ch)
	<-l.done
	if errp := l.err.Load(); errp != nil {
		return *errp
	}
	return nil
}

func (l *FileLog) run(f *os.File) {
	defer close(l.done)
	w := bufio.NewWriter(f)
	for rec := range l.ch {
		if err := writeRecord(w, rec); err != nil {
			l.err.Store(&err)
			break
		}
	}
	if err := w.Flush(); err != nil {
		l.err.Store(&err)
	}
	if err := f.Close(); err != nil && l.err.Load() == nil {
		l.err.Store(&err)
	}
}

// Entry framing: [length u32][crc32c u32][payload]. The checksum covers the
// payload only.
func writeRecord(w io.Writer, rec Record) error {
	payload := encodeRecord(rec)
	head := make([]byte, 8)
	binary.LittleEndian.PutUint32(head, uint32(len(payload)))
	binary.LittleEndian.PutUint32(head[4:], hash.CRC32C(payload))
	if _, err := w.Write(head); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func encodeRecord(rec Record) []byte {
	buf := make([]byte, 0, 1+8+8+4+len(rec.Keys)*model.KeySize+4)
	buf = append(buf, byte(rec.Op))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.Version))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.At.UnixNano()))
	buf = binary.LittleEndian.AppendUint32(buf, rec.Count)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.Keys)))
	for _, k := range rec.Keys {
		buf = append(buf, k[:]...)
	}
	return buf
}

func decodeRecord(payload []byte) (Record, error) {
	if len(payload) < 25 {
		return Record{}, ErrCorruptRecord
	}
	rec := Record{
		Op:      Op(payload[0]),
		Version: model.Version(binary.LittleEndian.Uint64(payload[1:])),
		At:      time.Unix(0, int64(binary.LittleEndian.Uint64(payload[9:]))),
		Count:   binary.LittleEndian.Uint32(payload[17:]),
	}
	numKeys := int(binary.LittleEndian.Uint32(payload[21:]))
	if len(payload) != 25+numKeys*model.KeySize {
		return Record{}, ErrCorruptRecord
	}
	rec.Keys = make([]model.Key, numKeys)
	off := 25
	for i := range rec.Keys {
		copy(rec.Keys[i][:], payload[off:off+model.KeySize])
		off += model.KeySize
	}
	return rec, nil
}

// ReadAll decodes every record in a journal file. On a corrupt or truncated
// tail it returns the records read so far together with ErrCorruptRecord.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("changelog: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record
	head := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, head); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, ErrCorruptRecord
		}
		length := binary.LittleEndian.Uint32(head)
		sum := binary.LittleEndian.Uint32(head[4:])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return records, ErrCorruptRecord
		}
		if hash.CRC32C(payload) != sum {
			return records, ErrCorruptRecord
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
