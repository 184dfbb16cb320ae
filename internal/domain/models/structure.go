package models

// Direction is a directional bias or signal side.
type Direction string

const (
	DirectionNone    Direction = ""
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// Opposite returns the opposing direction. DirectionNone stays DirectionNone.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBullish:
		return DirectionBearish
	case DirectionBearish:
		return DirectionBullish
	default:
		return DirectionNone
	}
}

// SignalType maps a direction to the persisted signal type.
func (d Direction) SignalType() SignalType {
	switch d {
	case DirectionBullish:
		return SignalTypeBuy
	case DirectionBearish:
		return SignalTypeSell
	default:
		return SignalTypeNeutral
	}
}

type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a bar flagged as a local extreme. Derived, never persisted.
type SwingPoint struct {
	Index int
	Kind  SwingKind
	Price float64 // high for swing highs, low for swing lows
	Close float64
}

// BOSEvent is a close beyond the most recent opposing swing.
type BOSEvent struct {
	Index      int       `json:"index"`
	Price      float64   `json:"price"`
	Direction  Direction `json:"direction"`
	SwingIndex int       `json:"swing_index"`
}

// OrderBlock is a supply/demand zone derived from the candle before a BOS.
type OrderBlock struct {
	Direction   Direction `json:"direction"`
	Index       int       `json:"index"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	BOSIndex    int       `json:"bos_index"`
	Mitigated   bool      `json:"mitigated"`
	MitigatedAt int       `json:"mitigated_at"`
}

// Midpoint returns the zone midpoint.
func (ob OrderBlock) Midpoint() float64 { return (ob.High + ob.Low) / 2 }

// Height returns the zone height.
func (ob OrderBlock) Height() float64 { return ob.High - ob.Low }

// ActiveAt reports whether the zone exists and is unmitigated when bar i is evaluated.
func (ob OrderBlock) ActiveAt(i int) bool {
	if i <= ob.BOSIndex {
		return false
	}
	return !ob.Mitigated || ob.MitigatedAt > i
}

// StructureState is owned by exactly one detection run and discarded afterwards.
type StructureState struct {
	HTFBias     Direction
	LTFBias     Direction
	Swings      []SwingPoint
	BOSHistory  []BOSEvent
	OrderBlocks []OrderBlock
}

// ActiveOrderBlocks returns the zones still unmitigated at the end of the run.
func (s *StructureState) ActiveOrderBlocks() []OrderBlock {
	out := make([]OrderBlock, 0, len(s.OrderBlocks))
	for _, ob := range s.OrderBlocks {
		if !ob.Mitigated {
			out = append(out, ob)
		}
	}
	return out
}

// BOSUpTo returns BOS events with index <= i, in order.
func (s *StructureState) BOSUpTo(i int) []BOSEvent {
	n := 0
	for n < len(s.BOSHistory) && s.BOSHistory[n].Index <= i {
		n++
	}
	return s.BOSHistory[:n]
}

// MomentumState holds the per-bar momentum gate.
type MomentumState struct {
	Index          int
	Fast           float64
	Slow           float64
	CumulativeFlow float64
	FlowSlope      float64
	Defined        bool
	LongOK         bool
	ShortOK        bool
}

// EntryCandidate is a scored, pre-persistence signal.
type EntryCandidate struct {
	Index             int        `json:"index"`
	Direction         Direction  `json:"direction"`
	Zone              OrderBlock `json:"zone"`
	BOS               BOSEvent   `json:"bos"`
	Confidence        int        `json:"confidence"`
	MomentumConfirmed bool       `json:"momentum_confirmed"`
	StructureAligned  bool       `json:"structure_aligned"`
}
