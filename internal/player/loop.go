package player

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fankserver/lavapool/internal/errs"
)

// LoopMode controls what happens to a track once it ends
type LoopMode string

const (
	LoopDisabled LoopMode = "disabled"
	LoopTrack    LoopMode = "track"
	LoopQueue    LoopMode = "queue"
)

// Valid reports whether m is one of the known modes
func (m LoopMode) Valid() bool {
	switch m {
	case LoopDisabled, LoopTrack, LoopQueue:
		return true
	}
	return false
}

// ParseLoopMode converts user input into a LoopMode
func ParseLoopMode(s string) (LoopMode, error) {
	mode := LoopMode(strings.ToLower(strings.TrimSpace(s)))
	if !mode.Valid() {
		return "", fmt.Errorf("%w: loop mode must be one of disabled, track or queue, got %q", errs.ErrInvalidArgument, s)
	}
	return mode, nil
}

// ParsePause converts user input into a pause flag
func ParsePause(s string) (bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%w: expected a boolean pause value, got %q", errs.ErrInvalidArgument, s)
	}
	return v, nil
}
