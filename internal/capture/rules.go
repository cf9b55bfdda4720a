package capture

// SignalRule returns the rule for "has signal": a write that changes the
// value raises signal_gained or signal_lost, an unchanged write raises
// nothing.
func (c *Core) SignalRule() Rule {
	return Rule{
		Apply: func(prev, next Value) {
			if prev.Bool() == next.Bool() {
				return
			}
			if next.Bool() {
				c.Push(EventSignalGained)
			} else {
				c.Push(EventSignalLost)
			}
		},
	}
}

// ResolutionRule returns a rule for "width" or "height" that rejects
// values outside the key's declared minimum/maximum and the global
// capture limits, then hands accepted changes to apply.
func (c *Core) ResolutionRule(key string, apply func(prev, next Value)) Rule {
	lo, hi := MinWidth, MaxWidth
	if key == KeyHeight {
		lo, hi = MinHeight, MaxHeight
	}

	return Rule{
		Validate: func(next Value) bool {
			switch next.Kind() {
			case KindInt, KindFloat:
			default:
				return false
			}
			n := next.Int()
			if n < lo || n > hi {
				return false
			}
			return c.props.InRange(key, next)
		},
		Apply: apply,
	}
}

// ControlRule returns a rule for a ranged GUI control that rejects values
// outside its companion bounds and passes accepted values to apply.
func (c *Core) ControlRule(key string, apply func(v int)) Rule {
	return Rule{
		Validate: func(next Value) bool {
			return c.props.InRange(key, next)
		},
		Apply: func(_, next Value) {
			if apply != nil {
				apply(next.Int())
			}
		},
	}
}

// DeclaredBounds returns the min/max resolution held in the properties.
func (c *Core) DeclaredBounds() (minimum, maximum Resolution) {
	bpp := c.frame.Resolution.BitsPerPixel
	minimum = Resolution{
		Width:        c.props.Get(KeyMinWidth).Int(),
		Height:       c.props.Get(KeyMinHeight).Int(),
		BitsPerPixel: bpp,
	}
	maximum = Resolution{
		Width:        c.props.Get(KeyMaxWidth).Int(),
		Height:       c.props.Get(KeyMaxHeight).Int(),
		BitsPerPixel: bpp,
	}
	return minimum, maximum
}

// ReadOnly is a rule rejecting every write. Backends use it for values
// the device dictates.
var ReadOnly = Rule{Validate: func(Value) bool { return false }}

// FrameLimit returns the declared maximum width and height clamped to the
// global limits. A missing or non-positive bound means the global one.
func (c *Core) FrameLimit() (width, height int) {
	clamp := func(v, limit int) int {
		if v <= 0 || v > limit {
			return limit
		}
		return v
	}
	return clamp(c.props.Get(KeyMaxWidth).Int(), MaxWidth),
		clamp(c.props.Get(KeyMaxHeight).Int(), MaxHeight)
}

// Fits reports whether r is within the global limits and the declared
// maximum.
func (c *Core) Fits(r Resolution) bool {
	w, h := c.FrameLimit()
	return r.Within() && r.Width <= w && r.Height <= h
}

// BoundsDefaults returns the width/height companion keys for the global
// capture limits.
func BoundsDefaults() map[string]Value {
	return map[string]Value{
		KeyMinWidth:  Int(MinWidth),
		KeyMaxWidth:  Int(MaxWidth),
		KeyMinHeight: Int(MinHeight),
		KeyMaxHeight: Int(MaxHeight),
	}
}
