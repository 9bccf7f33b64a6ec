package session

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"mecha/internal/logging"
)

// record wire format: 4-byte big-endian payload length, payload bytes (the
// exchange as JSON), 4-byte big-endian CRC32 (IEEE) of the payload.
const recordHeaderSize = 4

const maxRecordSize = 16 << 20

// Journal is an append-only, CRC-guarded exchange log backed by one file.
// Appends are serialized; reads serve from the in-memory replica built at
// open time, so iteration never touches disk.
type Journal struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	entries []Exchange
	lastTS  time.Time
}

// OpenJournal opens or creates the journal at path and replays its records.
// A record failing length or CRC validation terminates replay: the valid
// prefix is kept, the tail is discarded, and the returned error wraps
// ErrTruncatedJournal while the journal itself remains usable.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	j := &Journal{f: f, path: path}
	goodOffset, truncErr := j.replay()
	if truncErr != nil {
		logging.JournalWarn("%s: %v, keeping %d records", path, truncErr, len(j.entries))
		if err := f.Truncate(goodOffset); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate journal %s: %w", path, err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	logging.Journal("%s: opened with %d records", path, len(j.entries))
	return j, truncErr
}

// replay scans records from the start, returning the offset just past the
// last valid record and a wrapped ErrTruncatedJournal if the scan stopped
// early.
func (j *Journal) replay() (int64, error) {
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	var offset int64
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(j.f, header); err != nil {
			if err == io.EOF {
				return offset, nil
			}
			return offset, fmt.Errorf("%w: short header at offset %d", ErrTruncatedJournal, offset)
		}
		n := binary.BigEndian.Uint32(header)
		if n == 0 || n > maxRecordSize {
			return offset, fmt.Errorf("%w: implausible record length %d at offset %d", ErrTruncatedJournal, n, offset)
		}
		buf := make([]byte, int(n)+4)
		if _, err := io.ReadFull(j.f, buf); err != nil {
			return offset, fmt.Errorf("%w: short record at offset %d", ErrTruncatedJournal, offset)
		}
		payload, sum := buf[:n], binary.BigEndian.Uint32(buf[n:])
		if crc32.ChecksumIEEE(payload) != sum {
			return offset, fmt.Errorf("%w: checksum mismatch at offset %d", ErrTruncatedJournal, offset)
		}

		var ex Exchange
		if err := json.Unmarshal(payload, &ex); err != nil {
			return offset, fmt.Errorf("%w: undecodable record at offset %d", ErrTruncatedJournal, offset)
		}
		if want := uint64(len(j.entries) + 1); ex.Seq != want {
			return offset, fmt.Errorf("%w: seq %d where %d expected", ErrTruncatedJournal, ex.Seq, want)
		}
		j.entries = append(j.entries, ex)
		j.lastTS = ex.Timestamp
		offset += recordHeaderSize + int64(n) + 4
	}
}

// Append journals one exchange, assigning its sequence number and timestamp,
// and returns the stored record. The write is synced before returning.
func (j *Journal) Append(author Author, kind Kind, payload json.RawMessage) (Exchange, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := uint64(len(j.entries) + 1)
	ts := time.Now().UTC()
	// Timestamps are monotone per session even if the clock steps back.
	if ts.Before(j.lastTS) {
		ts = j.lastTS
	}

	ex := Exchange{
		Seq:       seq,
		ID:        newExchangeID(),
		Author:    author,
		Kind:      kind,
		Payload:   payload,
		Timestamp: ts,
	}
	raw, err := json.Marshal(ex)
	if err != nil {
		return Exchange{}, err
	}
	if len(raw) > maxRecordSize {
		return Exchange{}, fmt.Errorf("exchange payload too large: %d bytes", len(raw))
	}

	buf := make([]byte, recordHeaderSize+len(raw)+4)
	binary.BigEndian.PutUint32(buf, uint32(len(raw)))
	copy(buf[recordHeaderSize:], raw)
	binary.BigEndian.PutUint32(buf[recordHeaderSize+len(raw):], crc32.ChecksumIEEE(raw))

	if _, err := j.f.Write(buf); err != nil {
		return Exchange{}, fmt.Errorf("append journal: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return Exchange{}, fmt.Errorf("sync journal: %w", err)
	}

	if n := len(j.entries); n > 0 && j.entries[n-1].Seq >= seq {
		// Seq regressions indicate programmer error, never input.
		panic(fmt.Sprintf("journal %s: seq went backward (%d after %d)", j.path, seq, j.entries[n-1].Seq))
	}
	j.entries = append(j.entries, ex)
	j.lastTS = ts
	logging.JournalDebug("%s: appended seq=%d author=%s kind=%s", j.path, seq, author, kind)
	return ex, nil
}

// Iterate returns every exchange with Seq > since, in append order.
func (j *Journal) Iterate(since uint64) []Exchange {
	j.mu.Lock()
	defer j.mu.Unlock()
	if since >= uint64(len(j.entries)) {
		return nil
	}
	out := make([]Exchange, len(j.entries)-int(since))
	copy(out, j.entries[since:])
	return out
}

// HotStreak returns the last n agent-authored exchanges in append order, for
// continuation prompting.
func (j *Journal) HotStreak(n int) []Exchange {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n <= 0 {
		return nil
	}
	out := make([]Exchange, 0, n)
	for i := len(j.entries) - 1; i >= 0 && len(out) < n; i-- {
		if j.entries[i].Author == AuthorAgent {
			out = append(out, j.entries[i])
		}
	}
	// Collected newest-first; restore append order.
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// LastSeq returns the highest assigned sequence number, 0 when empty.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return uint64(len(j.entries))
}

// Close releases the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
