// Package dist implements the on-disk form of compiled snap programs. An
// image (conventionally a .snapc file) carries a set of Blocks, their
// constant pools and the prototypes those pools reference, CBOR encoded
// with integer keys. A content hash over the encoded blocks lets the
// loader reject images that were truncated or edited.
package dist

// ImageMagic identifies a snap image.
const ImageMagic = "snapc"

// ImageVersion is the current image format version.
const ImageVersion uint8 = 1

// Image is a complete compiled program. Body.Blocks[Body.Main] is the
// top-level script.
type Image struct {
	Magic   string    `cbor:"1,keyasint"`
	Version uint8     `cbor:"2,keyasint"`
	Hash    [32]byte  `cbor:"3,keyasint"` // sha256 of the encoded Body
	Body    ImageBody `cbor:"4,keyasint"`
}

// ImageBody is the hashed part of an Image.
type ImageBody struct {
	Main   int          `cbor:"1,keyasint"`
	Blocks []BlockImage `cbor:"2,keyasint"`
	Protos []ProtoImage `cbor:"3,keyasint,omitempty"`
}

// BlockImage is one compiled block.
type BlockImage struct {
	Name      string          `cbor:"1,keyasint"`
	Code      []byte          `cbor:"2,keyasint"`
	Lines     []int           `cbor:"3,keyasint,omitempty"`
	Constants []ConstantImage `cbor:"4,keyasint,omitempty"`
}

// ConstantKind identifies the kind of a constant pool entry.
type ConstantKind uint8

const (
	ConstNil       ConstantKind = 0
	ConstBool      ConstantKind = 1
	ConstNumber    ConstantKind = 2
	ConstString    ConstantKind = 3
	ConstPrototype ConstantKind = 4 // Proto indexes Protos
	ConstFunction  ConstantKind = 5 // Proto indexes Protos; no upvalues
)

// ConstantImage is one constant pool entry. Only the field matching Kind
// is meaningful.
type ConstantImage struct {
	Kind   ConstantKind `cbor:"1,keyasint"`
	Bool   bool         `cbor:"2,keyasint,omitempty"`
	Number float64      `cbor:"3,keyasint,omitempty"`
	String string       `cbor:"4,keyasint,omitempty"`
	Proto  int          `cbor:"5,keyasint,omitempty"`
}

// ProtoImage describes a prototype or a plain function. Block indexes
// ImageBody.Blocks.
type ProtoImage struct {
	Name     string         `cbor:"1,keyasint"`
	Arity    int            `cbor:"2,keyasint"`
	Block    int            `cbor:"3,keyasint"`
	Captures []CaptureImage `cbor:"4,keyasint,omitempty"`
}

// CaptureImage mirrors vm.Capture.
type CaptureImage struct {
	Local bool   `cbor:"1,keyasint"`
	Index uint16 `cbor:"2,keyasint"`
}
