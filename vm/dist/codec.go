package dist

import (
	"fmt"

	"github.com/chazu/snap/vm"
)

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type encoder struct {
	heap   *vm.Heap
	body   ImageBody
	blocks map[*vm.Block]int
	protos map[vm.Value]int
}

// Encode converts main and every block reachable from its constants into
// an Image. Constants must be nil, booleans, numbers, strings, prototypes
// or functions without upvalues.
func Encode(v *vm.VM, main *vm.Block) (*Image, error) {
	e := &encoder{
		heap:   v.Heap(),
		blocks: make(map[*vm.Block]int),
		protos: make(map[vm.Value]int),
	}
	idx, err := e.block(main)
	if err != nil {
		return nil, err
	}
	e.body.Main = idx
	return &Image{Magic: ImageMagic, Version: ImageVersion, Body: e.body}, nil
}

func (e *encoder) block(b *vm.Block) (int, error) {
	if i, ok := e.blocks[b]; ok {
		return i, nil
	}
	i := len(e.body.Blocks)
	e.blocks[b] = i
	e.body.Blocks = append(e.body.Blocks, BlockImage{Name: b.Name, Code: b.Code, Lines: b.Lines})

	consts := make([]ConstantImage, len(b.Constants))
	for j, c := range b.Constants {
		ci, err := e.constant(c)
		if err != nil {
			return 0, fmt.Errorf("dist: encode %s constant %d: %w", b.Name, j, err)
		}
		consts[j] = ci
	}
	e.body.Blocks[i].Constants = consts
	return i, nil
}

func (e *encoder) constant(c vm.Value) (ConstantImage, error) {
	switch c.Kind() {
	case vm.KindNil:
		return ConstantImage{Kind: ConstNil}, nil
	case vm.KindBool:
		return ConstantImage{Kind: ConstBool, Bool: c.Bool()}, nil
	case vm.KindNumber:
		return ConstantImage{Kind: ConstNumber, Number: c.Number()}, nil
	}

	if s := e.heap.AsString(c); s != nil {
		return ConstantImage{Kind: ConstString, String: s.Go()}, nil
	}
	if p := e.heap.AsPrototype(c); p != nil {
		caps := make([]CaptureImage, len(p.Captures))
		for i, cp := range p.Captures {
			caps[i] = CaptureImage{Local: cp.Local, Index: cp.Index}
		}
		idx, err := e.proto(c, p.Name, p.Arity, p.Block, caps)
		return ConstantImage{Kind: ConstPrototype, Proto: idx}, err
	}
	if f := e.heap.AsFunction(c); f != nil {
		if len(f.Upvalues) > 0 {
			return ConstantImage{}, fmt.Errorf("closure %s has %d upvalues", f.Name, len(f.Upvalues))
		}
		idx, err := e.proto(c, f.Name, f.Arity, f.Block, nil)
		return ConstantImage{Kind: ConstFunction, Proto: idx}, err
	}
	return ConstantImage{}, fmt.Errorf("cannot encode a %s", e.heap.TypeName(c))
}

// proto records a prototype or function once per object. The entry is
// reserved before its block is encoded so self-references resolve.
func (e *encoder) proto(c vm.Value, name string, arity int, b *vm.Block, caps []CaptureImage) (int, error) {
	if i, ok := e.protos[c]; ok {
		return i, nil
	}
	i := len(e.body.Protos)
	e.protos[c] = i
	e.body.Protos = append(e.body.Protos, ProtoImage{Name: name, Arity: arity, Captures: caps})
	bi, err := e.block(b)
	if err != nil {
		return 0, err
	}
	e.body.Protos[i].Block = bi
	return i, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type protoKey struct {
	kind  ConstantKind
	index int
}

type decoder struct {
	v      *vm.VM
	body   *ImageBody
	blocks []*vm.Block
	protos map[protoKey]vm.Value
}

// Decode rebuilds the blocks of img inside v and returns the main block.
// Every block is registered with v, so its constants stay alive for the
// VM's lifetime, and verified before it is returned.
func Decode(v *vm.VM, img *Image) (*vm.Block, error) {
	body := &img.Body
	if body.Main < 0 || body.Main >= len(body.Blocks) {
		return nil, fmt.Errorf("dist: main block %d out of range (%d blocks)", body.Main, len(body.Blocks))
	}
	for i, p := range body.Protos {
		if p.Block < 0 || p.Block >= len(body.Blocks) {
			return nil, fmt.Errorf("dist: prototype %d names block %d out of range", i, p.Block)
		}
	}

	d := &decoder{
		v:      v,
		body:   body,
		blocks: make([]*vm.Block, len(body.Blocks)),
		protos: make(map[protoKey]vm.Value),
	}
	for i, bi := range body.Blocks {
		b := &vm.Block{Name: bi.Name, Code: bi.Code, Lines: bi.Lines}
		v.RegisterBlock(b)
		d.blocks[i] = b
	}

	var decodeErr error
	if perr := v.Protect(func() { decodeErr = d.constants() }); perr != nil {
		return nil, fmt.Errorf("dist: decode: %w", perr)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	for _, b := range d.blocks {
		if err := b.Verify(); err != nil {
			return nil, fmt.Errorf("dist: %w", err)
		}
	}
	return d.blocks[body.Main], nil
}

// constants fills every constant pool. Each new object is appended to a
// registered block as soon as it exists, which roots it.
func (d *decoder) constants() error {
	for i, bi := range d.body.Blocks {
		b := d.blocks[i]
		b.Constants = make([]vm.Value, 0, len(bi.Constants))
		for j, ci := range bi.Constants {
			c, err := d.constant(ci)
			if err != nil {
				return fmt.Errorf("dist: decode %s constant %d: %w", bi.Name, j, err)
			}
			b.Constants = append(b.Constants, c)
		}
	}
	return nil
}

func (d *decoder) constant(ci ConstantImage) (vm.Value, error) {
	switch ci.Kind {
	case ConstNil:
		return vm.Nil, nil
	case ConstBool:
		return vm.FromBool(ci.Bool), nil
	case ConstNumber:
		return vm.FromNumber(ci.Number), nil
	case ConstString:
		return d.v.NewString(ci.String), nil
	case ConstPrototype, ConstFunction:
		return d.proto(ci.Kind, ci.Proto)
	}
	return vm.Nil, fmt.Errorf("unknown constant kind %d", ci.Kind)
}

func (d *decoder) proto(kind ConstantKind, index int) (vm.Value, error) {
	key := protoKey{kind, index}
	if c, ok := d.protos[key]; ok {
		return c, nil
	}
	if index < 0 || index >= len(d.body.Protos) {
		return vm.Nil, fmt.Errorf("prototype %d out of range", index)
	}
	p := d.body.Protos[index]
	block := d.blocks[p.Block]

	var c vm.Value
	if kind == ConstFunction {
		c = d.v.NewFunction(p.Name, p.Arity, block)
	} else {
		caps := make([]vm.Capture, len(p.Captures))
		for i, cp := range p.Captures {
			caps[i] = vm.Capture{Local: cp.Local, Index: cp.Index}
		}
		c = d.v.NewPrototype(p.Name, p.Arity, block, caps...)
	}
	d.protos[key] = c
	return c, nil
}
