package vm

import "sort"

// Profiler counts executed opcodes and function invocations. Functions
// are keyed by their Block, so every closure made from one prototype
// shares a profile.
type Profiler struct {
	opCounts  [256]uint64
	functions map[*Block]*FunctionProfile

	// HotThreshold is the call count at which a function becomes hot.
	HotThreshold uint64

	// OnHot, when set, is called once per function as it becomes hot.
	OnHot func(profile *FunctionProfile)

	hotCount int
}

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	Name            string
	InvocationCount uint64
	IsHot           bool
}

// NewProfiler creates a new profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{
		functions:    make(map[*Block]*FunctionProfile),
		HotThreshold: 100,
	}
}

// RecordOp counts one execution of op.
func (p *Profiler) RecordOp(op Opcode) {
	p.opCounts[op]++
}

// RecordCall counts an invocation of fn. Returns true if this invocation
// made the function hot.
func (p *Profiler) RecordCall(fn *Function) bool {
	if fn == nil || fn.Block == nil {
		return false
	}
	profile, ok := p.functions[fn.Block]
	if !ok {
		profile = &FunctionProfile{Name: fn.Name}
		p.functions[fn.Block] = profile
	}
	profile.InvocationCount++

	if !profile.IsHot && profile.InvocationCount >= p.HotThreshold {
		profile.IsHot = true
		p.hotCount++
		if p.OnHot != nil {
			p.OnHot(profile)
		}
		return true
	}
	return false
}

// OpCount returns how many times op was executed.
func (p *Profiler) OpCount(op Opcode) uint64 {
	return p.opCounts[op]
}

// TotalOps returns the number of instructions executed.
func (p *Profiler) TotalOps() uint64 {
	var total uint64
	for _, n := range p.opCounts {
		total += n
	}
	return total
}

// HotCount returns the number of functions that crossed the threshold.
func (p *Profiler) HotCount() int {
	return p.hotCount
}

// Functions returns all function profiles, most called first.
func (p *Profiler) Functions() []FunctionProfile {
	result := make([]FunctionProfile, 0, len(p.functions))
	for _, fp := range p.functions {
		result = append(result, *fp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].InvocationCount != result[j].InvocationCount {
			return result[i].InvocationCount > result[j].InvocationCount
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Reset clears all counters.
func (p *Profiler) Reset() {
	p.opCounts = [256]uint64{}
	p.functions = make(map[*Block]*FunctionProfile)
	p.hotCount = 0
}
