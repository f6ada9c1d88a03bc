package internal

import (
	"fmt"
	"time"
)

// BatchID identifies a batch of positions acquired from the queue.
type BatchID string

// PositionID is the zero-based index of a position within its batch.
type PositionID int

// WorkType distinguishes the two kinds of work the queue hands out.
type WorkType string

const (
	// WorkAnalysis asks for a full evaluation of every ply of a game.
	WorkAnalysis WorkType = "analysis"

	// WorkMove asks for a single best move at a given strength level.
	WorkMove WorkType = "move"
)

// Work describes a unit of work as assigned by the queue.
type Work struct {
	Type  WorkType `json:"type"`
	ID    BatchID  `json:"id"`
	Level int      `json:"level,omitempty"`
}

// Score is an engine evaluation, either in centipawns or as a forced mate
// distance. Exactly one of the two fields is set.
type Score struct {
	Cp   *int `json:"cp,omitempty"`
	Mate *int `json:"mate,omitempty"`
}

// String renders the score the way engines report it, e.g. "cp 24" or "mate -3".
func (s Score) String() string {
	if s.Mate != nil {
		return fmt.Sprintf("mate %d", *s.Mate)
	}
	if s.Cp != nil {
		return fmt.Sprintf("cp %d", *s.Cp)
	}
	return "?"
}

// Position is a single position to be analysed by an engine worker.
type Position struct {
	Work     Work
	ID       PositionID
	BatchURL string
	Variant  string
	FEN      string
	Moves    []string
	Nodes    uint64
}

// PositionResponse is an engine's result for a single position.
type PositionResponse struct {
	Work     Work
	ID       PositionID
	BatchURL string
	BestMove string
	PV       []string
	Depth    int
	Score    Score
	Time     time.Duration
	Nodes    uint64
	NPS      uint32
}

// PositionFailed reports that a position could not be analysed. The whole
// batch it belongs to must be abandoned.
type PositionFailed struct {
	BatchID BatchID
}

// Outcome is the result of one engine worker's previous position, handed
// back when pulling the next one. Exactly one field is set.
type Outcome struct {
	Response *PositionResponse
	Failed   *PositionFailed
}
