// Package dataframe is the shared, replicated observable object store
// component (C3) the match server and its clients exchange turn state
// through: typed records, mutated locally and propagated on explicit
// commit/pull.
package dataframe

import (
	"encoding/binary"
	"encoding/gob"
)

func init() {
	// Observation values stored in PlayerRecord.Observations are carried
	// as interface{}; gob needs the concrete dynamic types registered.
	gob.Register(int(0))
	gob.Register(float64(0))
	gob.Register(bool(false))
	gob.Register("")
}

// PlayerRecord is one player's row (§3 "Player record"). pid is assigned on
// Join; Number is -1 until the match starts, then the seat index in
// acceptance order.
type PlayerRecord struct {
	PID                  int64
	Name                 string
	Number               int
	Turn                 bool
	Action               []byte
	ReadyForAction       bool
	RewardFromLastTurn   float64
	AcknowledgesGameOver bool
	Observations         map[string]interface{}
}

// ServerStateRecord is the match's singleton server-state row (§3 "Server
// state record"). Winners is the big-endian length-prefixed encoding of
// the winning seat indices (see EncodeWinners/DecodeWinners) — the wire
// form fixed by this module for spec.md §9's open question.
type ServerStateRecord struct {
	EnvClassName    string
	EnvDimensions   []string
	Terminal        bool
	Winners         []byte
	SerializedState []byte
}

// EncodeWinners serializes a list of seat indices as a big-endian
// length-prefixed int32 sequence.
func EncodeWinners(seats []int) []byte {
	out := make([]byte, 4+4*len(seats))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(seats)))
	for i, s := range seats {
		binary.BigEndian.PutUint32(out[4+4*i:8+4*i], uint32(int32(s)))
	}
	return out
}

// DecodeWinners is the inverse of EncodeWinners. A nil or empty input
// decodes to an empty slice.
func DecodeWinners(data []byte) []int {
	if len(data) < 4 {
		return nil
	}
	n := int(binary.BigEndian.Uint32(data[0:4]))
	out := make([]int, 0, n)
	for i := 0; i < n && 4+4*(i+1) <= len(data); i++ {
		out = append(out, int(int32(binary.BigEndian.Uint32(data[4+4*i:8+4*i]))))
	}
	return out
}
