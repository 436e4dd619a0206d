package analysis

import (
	"errors"
	"fmt"

	"github.com/p2tas-community/p2tas-dev-tools/internal/parser"
)

var (
	// ErrUnmatchedEnd is returned when an "end" has no preceding "repeat".
	ErrUnmatchedEnd = errors.New("end without matching repeat")
	// ErrAbsoluteInLoop is returned when a repeat body holds an absolute tick.
	ErrAbsoluteInLoop = errors.New("absolute tick inside repeat block")
	ErrLineRange      = errors.New("line out of range")
)

// TickResult is the resolved position of a line. LoopStart is the tick at
// which the current iteration of the innermost enclosing loop began and is
// only meaningful when InLoop is set.
type TickResult struct {
	Tick      int
	LoopStart int
	InLoop    bool
}

func (r TickResult) String() string {
	if r.InLoop {
		return fmt.Sprintf("Tick: %d (Repeat start: %d)", r.Tick, r.LoopStart)
	}
	return fmt.Sprintf("Tick: %d", r.Tick)
}

// TickForLine resolves the absolute tick at which the line at index executes.
func TickForLine(script *parser.Script, index int) (TickResult, error) {
	target := script.Line(index)
	if target == nil {
		return TickResult{}, fmt.Errorf("%w: %d", ErrLineRange, index)
	}
	if target.IsFramebulk() {
		if target.Err != nil {
			return TickResult{}, target.Err
		}
		if !target.Tick.Relative {
			return TickResult{Tick: target.Tick.Value}, nil
		}
	}

	total := 0
	iterationStart := 0
	recorded := false

walk:
	for i := index; i >= 0; i-- {
		line := &script.Lines[i]
		switch line.Kind {
		case parser.KindEnd:
			ticks, header, err := ticksInLoop(script, i)
			if err != nil {
				return TickResult{}, err
			}
			total += ticks
			i = header
		case parser.KindRepeat:
			// Complete blocks are skipped above, so any header reached here
			// encloses the target line.
			if !recorded {
				iterationStart = total
				recorded = true
			}
		case parser.KindFramebulk:
			if line.Err != nil {
				return TickResult{}, line.Err
			}
			total += line.Tick.Value
			if !line.Tick.Relative {
				break walk
			}
		}
	}

	res := TickResult{Tick: total}
	if recorded {
		res.LoopStart = total - iterationStart
		res.InLoop = true
	}
	return res, nil
}

// ticksInLoop resolves the block closed by the "end" at endIndex. It returns
// the ticks of the whole block, iterations included, and the index of the
// matching "repeat".
func ticksInLoop(script *parser.Script, endIndex int) (int, int, error) {
	sum := 0
	// Body errors only count once the block is known to have a header.
	var bodyErr error
	for i := endIndex - 1; i >= 0; i-- {
		line := &script.Lines[i]
		switch line.Kind {
		case parser.KindEnd:
			ticks, header, err := ticksInLoop(script, i)
			if err != nil {
				return 0, 0, err
			}
			sum += ticks
			i = header
		case parser.KindRepeat:
			if bodyErr != nil {
				return 0, 0, bodyErr
			}
			if line.Err != nil {
				return 0, 0, line.Err
			}
			return sum * line.Iterations, i, nil
		case parser.KindFramebulk:
			if bodyErr != nil {
				continue
			}
			if line.Err != nil {
				bodyErr = line.Err
				continue
			}
			if !line.Tick.Relative {
				bodyErr = fmt.Errorf("%w at line %d", ErrAbsoluteInLoop, i+1)
				continue
			}
			sum += line.Tick.Value
		}
	}
	return 0, 0, fmt.Errorf("%w at line %d", ErrUnmatchedEnd, endIndex+1)
}
