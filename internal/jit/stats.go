package jit

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
	"github.com/segmentio/encoding/json"
	"go.uber.org/atomic"
)

// Stats are the compiler's counters. They may be read from any goroutine.
type Stats struct {
	Methods      atomic.Int64
	Bytes        atomic.Int64
	EncoderCalls atomic.Int64
	Links        atomic.Int64
	Failures     atomic.Int64
	CompileTime  atomic.Duration
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Methods      int64         `json:"methods"`
	Bytes        int64         `json:"bytes"`
	EncoderCalls int64         `json:"encoder_calls"`
	Links        int64         `json:"links"`
	Failures     int64         `json:"failures"`
	CompileTime  time.Duration `json:"compile_time_ns"`
	BufferUsed   int           `json:"buffer_used"`
	BufferSize   int           `json:"buffer_size"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Methods:      s.Methods.Load(),
		Bytes:        s.Bytes.Load(),
		EncoderCalls: s.EncoderCalls.Load(),
		Links:        s.Links.Load(),
		Failures:     s.Failures.Load(),
		CompileTime:  s.CompileTime.Load(),
	}
}

// JSON encodes the snapshot.
func (s StatsSnapshot) JSON() ([]byte, error) {
	return json.Marshal(s)
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("%d methods, %s of code (%s/%s buffer), %d links, %d failures in %s",
		s.Methods, units.BytesSize(float64(s.Bytes)),
		units.BytesSize(float64(s.BufferUsed)), units.BytesSize(float64(s.BufferSize)),
		s.Links, s.Failures, s.CompileTime)
}
