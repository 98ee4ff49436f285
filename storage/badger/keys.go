package badger

import (
	"encoding/binary"
	"time"
)

// Key prefixes for different data types
const (
	runRecordPrefix     = "run:"
	runRecordDatePrefix = "rund:"
)

// makeRunKey generates a key for a run record by processing id.
func makeRunKey(processingID string) []byte {
	return []byte(runRecordPrefix + processingID)
}

// makeRunDateKey generates a composite key for the date index.
// Format: prefix:timestamp:processingID
func makeRunDateKey(timestamp time.Time, processingID string) []byte {
	buf := make([]byte, len(runRecordDatePrefix)+8+len(processingID))
	offset := copy(buf, runRecordDatePrefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(timestamp.UnixMicro()))
	offset += 8
	copy(buf[offset:], processingID)
	return buf
}

// makePartialRunDateKey generates a partial key for date range queries.
// Format: prefix:timestamp
func makePartialRunDateKey(timestamp time.Time) []byte {
	buf := make([]byte, len(runRecordDatePrefix)+8)
	offset := copy(buf, runRecordDatePrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(timestamp.UnixMicro()))
	return buf
}
