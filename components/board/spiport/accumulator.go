package spiport

import "go.viam.com/spiaccum/components/board/accumulator"

// The accumulator methods below behave as if an empty accumulator were running when none is:
// getters return zero and setters do nothing.

// ResetAccumulator zeroes the accumulated totals.
func (p *Port) ResetAccumulator() error {
	if a := p.Accumulator(); a != nil {
		return a.Reset()
	}
	return nil
}

// SetAccumulatorCenter sets the value subtracted from each sample.
func (p *Port) SetAccumulatorCenter(center int64) error {
	if a := p.Accumulator(); a != nil {
		return a.SetCenter(center)
	}
	return nil
}

// SetAccumulatorDeadband sets the band around the center in which samples are not summed.
func (p *Port) SetAccumulatorDeadband(deadband int64) error {
	if a := p.Accumulator(); a != nil {
		return a.SetDeadband(deadband)
	}
	return nil
}

// SetAccumulatorIntegratedCenter sets the amount subtracted from the integral on each sample.
func (p *Port) SetAccumulatorIntegratedCenter(center float64) error {
	if a := p.Accumulator(); a != nil {
		return a.SetIntegratedCenter(center)
	}
	return nil
}

// AccumulatorLastValue returns the most recent sample, or 0 when no accumulator is running.
func (p *Port) AccumulatorLastValue() (int64, error) {
	if a := p.Accumulator(); a != nil {
		return a.LastValue()
	}
	return 0, nil
}

// AccumulatorValue returns the sum of centered samples.
func (p *Port) AccumulatorValue() (int64, error) {
	if a := p.Accumulator(); a != nil {
		return a.Value()
	}
	return 0, nil
}

// AccumulatorCount returns the number of samples summed.
func (p *Port) AccumulatorCount() (uint32, error) {
	if a := p.Accumulator(); a != nil {
		return a.Count()
	}
	return 0, nil
}

// AccumulatorAverage returns the value divided by the count, or 0 before any sample.
func (p *Port) AccumulatorAverage() (float64, error) {
	if a := p.Accumulator(); a != nil {
		return a.Average()
	}
	return 0, nil
}

// AccumulatorOutput fills out with a consistent value and count.
func (p *Port) AccumulatorOutput(out *accumulator.Output) error {
	if out == nil {
		return accumulator.ErrNilOutput
	}
	if a := p.Accumulator(); a != nil {
		return a.Output(out)
	}
	*out = accumulator.Output{}
	return nil
}

// AccumulatorIntegratedValue returns the integral of samples over time, in sample units times seconds.
func (p *Port) AccumulatorIntegratedValue() (float64, error) {
	if a := p.Accumulator(); a != nil {
		return a.IntegratedValue()
	}
	return 0, nil
}

// AccumulatorIntegratedAverage returns the integral divided by the number of intervals it covers.
func (p *Port) AccumulatorIntegratedAverage() (float64, error) {
	if a := p.Accumulator(); a != nil {
		return a.IntegratedAverage()
	}
	return 0, nil
}
