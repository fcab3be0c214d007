package dist

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/chazu/snap/vm"
	"github.com/fxamacker/cbor/v2"
)

// Canonical mode keeps encoding deterministic so the body hash is stable.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage serializes an Image to CBOR bytes, filling in its hash.
func MarshalImage(img *Image) ([]byte, error) {
	h, err := hashBody(&img.Body)
	if err != nil {
		return nil, err
	}
	img.Magic = ImageMagic
	img.Version = ImageVersion
	img.Hash = h
	return cborEncMode.Marshal(img)
}

// UnmarshalImage deserializes an Image from CBOR bytes and checks its
// header and hash.
func UnmarshalImage(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("dist: unmarshal image: %w", err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("dist: not a snap image (magic %q)", img.Magic)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("dist: unsupported image version %d (want %d)", img.Version, ImageVersion)
	}
	h, err := hashBody(&img.Body)
	if err != nil {
		return nil, err
	}
	if h != img.Hash {
		return nil, fmt.Errorf("dist: hash mismatch: declared %x, computed %x", img.Hash, h)
	}
	return &img, nil
}

func hashBody(body *ImageBody) ([32]byte, error) {
	data, err := cborEncMode.Marshal(body)
	if err != nil {
		return [32]byte{}, fmt.Errorf("dist: marshal image body: %w", err)
	}
	return sha256.Sum256(data), nil
}

// MarshalBlock encodes main and every block reachable through its
// constants.
func MarshalBlock(v *vm.VM, main *vm.Block) ([]byte, error) {
	img, err := Encode(v, main)
	if err != nil {
		return nil, err
	}
	return MarshalImage(img)
}

// UnmarshalBlock decodes an image into v and returns its main block.
func UnmarshalBlock(v *vm.VM, data []byte) (*vm.Block, error) {
	img, err := UnmarshalImage(data)
	if err != nil {
		return nil, err
	}
	return Decode(v, img)
}

// WriteFile writes main as an image file.
func WriteFile(v *vm.VM, path string, main *vm.Block) error {
	data, err := MarshalBlock(v, main)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("dist: write image: %w", err)
	}
	return nil
}

// ReadFile loads an image file into v and returns its main block.
func ReadFile(v *vm.VM, path string) (*vm.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dist: read image: %w", err)
	}
	return UnmarshalBlock(v, data)
}
