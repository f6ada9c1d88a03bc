package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/minnowchess/minnow/internal"
)

// MoveList is a sequence of UCI moves. The queue serializes move lists as a
// single space-separated string.
type MoveList []string

func (m MoveList) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.Join(m, " "))
}

func (m *MoveList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	if joined == "" {
		*m = nil
		return nil
	}
	*m = strings.Fields(joined)
	return nil
}

// AcquireQuery tunes what kind of work is requested. Slow workers ask for
// non-urgent batches so fast workers keep interactive analysis snappy.
type AcquireQuery struct {
	Slow bool
}

// AcquireResponse is an accepted batch of work.
type AcquireResponse struct {
	Work          internal.Work `json:"work"`
	GameID        string        `json:"game_id,omitempty"`
	Position      string        `json:"position"`
	Variant       string        `json:"variant,omitempty"`
	Moves         MoveList      `json:"moves"`
	Nodes         *uint64       `json:"nodes,omitempty"`
	SkipPositions []int         `json:"skip_positions,omitempty"`
}

// AnalysisPart is the result for one ply of a batch. A nil part marks a
// position that has not been analysed yet (progress reports), a part with
// Skipped set marks a ply the queue asked to skip.
type AnalysisPart struct {
	Skipped bool            `json:"skipped,omitempty"`
	PV      MoveList        `json:"pv,omitempty"`
	Depth   int             `json:"depth,omitempty"`
	Score   *internal.Score `json:"score,omitempty"`
	Time    uint64          `json:"time,omitempty"`
	Nodes   uint64          `json:"nodes,omitempty"`
	NPS     uint32          `json:"nps,omitempty"`
}

// CompletePart builds an AnalysisPart from an engine response.
func CompletePart(res internal.PositionResponse) *AnalysisPart {
	score := res.Score
	return &AnalysisPart{
		PV:    MoveList(res.PV),
		Depth: res.Depth,
		Score: &score,
		Time:  uint64(res.Time.Milliseconds()),
		Nodes: res.Nodes,
		NPS:   res.NPS,
	}
}

// SkippedPart is the serialized form of a skipped ply.
func SkippedPart() *AnalysisPart {
	return &AnalysisPart{Skipped: true}
}

// Seconds decodes a JSON number of seconds into a duration.
type Seconds time.Duration

func (s *Seconds) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Seconds(time.Duration(n * float64(time.Second)))
	return nil
}

// Duration returns the decoded duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

// BacklogStatus describes one lane of the queue.
type BacklogStatus struct {
	Acquired int64   `json:"acquired"`
	Queued   int64   `json:"queued"`
	Oldest   Seconds `json:"oldest"`
}

// QueueStatus is the public queue depth report used for backlog gating.
type QueueStatus struct {
	User   BacklogStatus `json:"user"`
	System BacklogStatus `json:"system"`
}

type statusBody struct {
	Analysis QueueStatus `json:"analysis"`
}
