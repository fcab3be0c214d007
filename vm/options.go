package vm

// Options configures a VM. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	// StackSize is the operand stack capacity in values.
	StackSize int
	// MaxFrames bounds the call depth.
	MaxFrames int

	// StressGC collects garbage on every object registration.
	StressGC bool
	// Assertions enables internal consistency checks.
	Assertions bool
	// LogGC reports every collection at info level instead of debug.
	LogGC bool
	// Profile counts executed opcodes and function calls.
	Profile bool

	// HeapGrowFactor scales the live heap size to get the next
	// collection threshold.
	HeapGrowFactor float64
	// InitialHeapThreshold is the smallest collection threshold in bytes.
	InitialHeapThreshold int
	// MaxHeapBytes fails allocation once a collection cannot bring the
	// heap under it. Zero means unlimited.
	MaxHeapBytes int
}

const (
	DefaultStackSize            = 256
	DefaultMaxFrames            = 128
	DefaultHeapGrowFactor       = 2.0
	DefaultInitialHeapThreshold = 1 << 20
)

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		StackSize:            DefaultStackSize,
		MaxFrames:            DefaultMaxFrames,
		HeapGrowFactor:       DefaultHeapGrowFactor,
		InitialHeapThreshold: DefaultInitialHeapThreshold,
	}
}

// normalize fills unset fields with defaults.
func (o Options) normalize() Options {
	if o.StackSize <= 0 {
		o.StackSize = DefaultStackSize
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = DefaultMaxFrames
	}
	if o.HeapGrowFactor <= 1 {
		o.HeapGrowFactor = DefaultHeapGrowFactor
	}
	if o.InitialHeapThreshold <= 0 {
		o.InitialHeapThreshold = DefaultInitialHeapThreshold
	}
	return o
}
