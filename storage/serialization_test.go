package storage

import (
	"testing"
	"time"

	"github.com/poiesic/tabvec/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRecordSerialization(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record := &RunRecord{
		ProcessingID: "abc",
		SourceFile:   "sales.csv",
		StoreKind:    "document",
		Collection:   "collection_abc",
		Status:       RunCompleted,
		CreatedAt:    created,
		Result: &core.ProcessingResult{
			ProcessingID: "abc",
			RowsIn:       10,
			Chunking:     core.ChunkingSummary{Method: "fixed", TotalChunks: 2},
		},
	}

	data, err := MarshalRunRecord(record)
	require.NoError(t, err)

	got, err := UnmarshalRunRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ProcessingID)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.Chunking.TotalChunks)
}

func TestUnmarshalRunRecord_Garbage(t *testing.T) {
	_, err := UnmarshalRunRecord([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestRunRecordValidate(t *testing.T) {
	assert.ErrorIs(t, (*RunRecord)(nil).Validate(), ErrInvalidRecord)
	assert.ErrorIs(t, (&RunRecord{ProcessingID: "x"}).Validate(), ErrInvalidRecord)
	assert.NoError(t, (&RunRecord{ProcessingID: "x", CreatedAt: time.Now()}).Validate())
}
