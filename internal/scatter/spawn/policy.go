package spawn

type Shape string

const (
	ShapePoint Shape = "point"
	ShapeArea  Shape = "area"
)

type Cadence string

const (
	CadenceOnce        Cadence = "once"
	CadenceAfterSettle Cadence = "after_settle"
	CadenceAfterDelay  Cadence = "after_delay"
)

const (
	MinDropHeight   = 0.1
	DefaultMinDelay = 0.2
)

// Policy controls where and how often drops happen.
type Policy struct {
	Shape Shape `yaml:"shape" json:"shape"`
	// Radius of the spawn disc in area mode.
	Radius  float32 `yaml:"radius" json:"radius"`
	Cadence Cadence `yaml:"cadence" json:"cadence"`
	// MinDelay debounces after_settle spawns and bounds Delay from below.
	MinDelay float32 `yaml:"min_delay" json:"min_delay"`
	Delay    float32 `yaml:"delay" json:"delay"`

	RandomizeRotation bool `yaml:"randomize_rotation" json:"randomize_rotation"`
	RandomizeOrder    bool `yaml:"randomize_order" json:"randomize_order"`
	KeepParent        bool `yaml:"keep_parent" json:"keep_parent"`

	// DropHeight is the minimum height above the hit point new drops start from.
	DropHeight float32 `yaml:"drop_height" json:"drop_height"`
}

func DefaultPolicy() Policy {
	return Policy{
		Shape:          ShapePoint,
		Radius:         3,
		Cadence:        CadenceAfterSettle,
		MinDelay:       DefaultMinDelay,
		Delay:          1,
		RandomizeOrder: true,
		DropHeight:     5,
	}
}

// Normalize clamps p into its valid range.
func (p *Policy) Normalize() {
	switch p.Shape {
	case ShapePoint, ShapeArea:
	default:
		p.Shape = ShapePoint
	}
	switch p.Cadence {
	case CadenceOnce, CadenceAfterSettle, CadenceAfterDelay:
	default:
		p.Cadence = CadenceAfterSettle
	}
	if p.Radius < 0 || p.Shape == ShapePoint {
		p.Radius = 0
	}
	if p.MinDelay <= 0 {
		p.MinDelay = DefaultMinDelay
	}
	if p.Delay < p.MinDelay {
		p.Delay = p.MinDelay
	}
	if p.DropHeight < MinDropHeight {
		p.DropHeight = MinDropHeight
	}
}
