package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ReadGroundMotion reads a two-column "time value" record. Sample k lands at
// step k/SubSteps, column k%SubSteps; the result is steps×SubSteps with
// unrecorded tail samples left at zero.
func ReadGroundMotion(r io.Reader, steps int) (*mat.Dense, error) {
	if steps <= 0 || steps > MaxSteps {
		return nil, fmt.Errorf("%w: %d steps outside (0,%d]", ErrMalformed, steps, MaxSteps)
	}
	out := mat.NewDense(steps, SubSteps, nil)
	scanner := bufio.NewScanner(r)
	index := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrMalformed, index+1, len(fields))
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, index+1, err)
		}
		step, sub := index/SubSteps, index%SubSteps
		if step >= MaxSteps {
			return nil, fmt.Errorf("%w: record longer than %d samples", ErrMalformed, MaxSteps*SubSteps)
		}
		if step < steps {
			out.Set(step, sub, value)
		}
		index++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func ReadGroundMotionFile(path string, steps int) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gm, err := ReadGroundMotion(f, steps)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return gm, nil
}
