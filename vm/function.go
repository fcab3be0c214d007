package vm

// ---------------------------------------------------------------------------
// Prototype and Function
// ---------------------------------------------------------------------------

// Capture describes where a closure finds one of its upvalues when it is
// instantiated: a local slot of the enclosing frame, or an upvalue of the
// enclosing function.
type Capture struct {
	Local bool
	Index uint16
}

// Prototype is the template a CLOSURE instruction instantiates.
type Prototype struct {
	ObjHeader
	Name     string
	Arity    int
	Block    *Block
	Captures []Capture
}

// NewPrototype builds an unregistered prototype; pass it to
// VM.RegisterObject to place it on the heap.
func NewPrototype(name string, arity int, block *Block, captures ...Capture) *Prototype {
	return &Prototype{
		ObjHeader: ObjHeader{typ: ObjPrototype},
		Name:      name,
		Arity:     arity,
		Block:     block,
		Captures:  captures,
	}
}

func (p *Prototype) trace(gc *collector) {
	gc.markBlock(p.Block)
}

func (p *Prototype) size() int { return headerSize + 64 + len(p.Captures)*4 }

func (p *Prototype) release() {
	p.Block = nil
	p.Captures = nil
}

// Function is a callable closure: a block bound to a name and to the
// upvalues it captured.
type Function struct {
	ObjHeader
	Name     string
	Arity    int
	Block    *Block
	Proto    Handle // zero for the top-level script
	Upvalues []Handle
}

func newFunction(name string, arity int, block *Block) *Function {
	return &Function{
		ObjHeader: ObjHeader{typ: ObjFunction},
		Name:      name,
		Arity:     arity,
		Block:     block,
	}
}

func newClosure(proto *Prototype) *Function {
	fn := newFunction(proto.Name, proto.Arity, proto.Block)
	fn.Proto = proto.self
	fn.Upvalues = make([]Handle, len(proto.Captures))
	return fn
}

func (f *Function) trace(gc *collector) {
	if !f.Proto.IsZero() {
		gc.markHandle(f.Proto)
	}
	for _, uv := range f.Upvalues {
		if !uv.IsZero() {
			gc.markHandle(uv)
		}
	}
	gc.markBlock(f.Block)
}

func (f *Function) size() int { return headerSize + 64 + len(f.Upvalues)*8 }

func (f *Function) release() {
	f.Block = nil
	f.Upvalues = nil
}
