package embedding

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker(t *testing.T) {
	t.Run("increments to completion", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 100, 10)

		tracker.Start()
		tracker.Increment(25)
		tracker.Increment(25)
		tracker.Increment(50)

		assert.Greater(t, tracker.Elapsed(), time.Duration(0))
		assert.Contains(t, buf.String(), "100/100")
		assert.Contains(t, buf.String(), "100.0%")
	})

	t.Run("ignores updates before start", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 10, 1)
		tracker.Update(5)
		tracker.Finish()
		assert.Empty(t, buf.String())
		assert.Equal(t, time.Duration(0), tracker.Elapsed())
	})

	t.Run("caps at total", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 10, 1)
		tracker.Start()
		tracker.Update(50)
		assert.Contains(t, buf.String(), "10/10")
	})

	t.Run("func adapter finishes", func(t *testing.T) {
		var buf bytes.Buffer
		fn := NewProgressTracker(&buf, 4, 1).Func()
		fn(2, 4)
		fn(4, 4)
		assert.Contains(t, buf.String(), "2/4")
		assert.Contains(t, buf.String(), "4/4")
		assert.Contains(t, buf.String(), "\n")
	})
}
