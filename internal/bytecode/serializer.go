// serializer.go - binary program images
//
// Images are CBOR documents. Instruction words are stored with DirectCoding
// so an image does not depend on the handler addresses of the VM that wrote
// it; loading re-encodes the opcode words for the reading VM.

package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// ImageExtension is the file extension of program images.
	ImageExtension = ".cbor"

	imageMagic   = "NJIT"
	imageVersion = 1
)

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

type image struct {
	Magic   string        `cbor:"1,keyasint"`
	Version uint          `cbor:"2,keyasint"`
	Entry   string        `cbor:"3,keyasint"`
	Methods []imageMethod `cbor:"4,keyasint"`
}

type imageMethod struct {
	Name        string      `cbor:"1,keyasint"`
	Argc        int         `cbor:"2,keyasint"`
	Code        []uint64    `cbor:"3,keyasint"`
	Calls       []imageCall `cbor:"4,keyasint,omitempty"`
	Fingerprint [32]byte    `cbor:"5,keyasint"`
}

type imageCall struct {
	Callee string `cbor:"1,keyasint"`
	Argc   int    `cbor:"2,keyasint"`
}

// MarshalProgram serializes p. dec decodes p's own instruction words.
func MarshalProgram(p *Program, dec Decoder) ([]byte, error) {
	img := image{Magic: imageMagic, Version: imageVersion, Entry: p.Entry}
	for _, m := range p.Methods {
		direct := recode(m, dec, DirectCoding{})
		im := imageMethod{
			Name:        m.Name,
			Argc:        m.Argc,
			Code:        direct.Encoded,
			Fingerprint: direct.Fingerprint(),
		}
		for _, cd := range m.CallData {
			if cd.Callee == nil {
				return nil, fmt.Errorf("bytecode: %s has a call site without callee", m.Name)
			}
			im.Calls = append(im.Calls, imageCall{Callee: cd.Callee.Name, Argc: cd.Argc})
		}
		img.Methods = append(img.Methods, im)
	}
	return imageEncMode.Marshal(&img)
}

// UnmarshalProgram loads an image written by MarshalProgram, encoding opcode
// words with enc.
func UnmarshalProgram(data []byte, enc Coding) (*Program, error) {
	var img image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal image: %w", err)
	}
	if img.Magic != imageMagic {
		return nil, fmt.Errorf("bytecode: not a program image (magic %q)", img.Magic)
	}
	if img.Version != imageVersion {
		return nil, fmt.Errorf("bytecode: unsupported image version %d", img.Version)
	}

	p := &Program{Entry: img.Entry, byName: make(map[string]*Method, len(img.Methods))}
	for _, im := range img.Methods {
		if err := p.declare(im.Name, im.Argc); err != nil {
			return nil, err
		}
	}
	for i, im := range img.Methods {
		m := p.Methods[i]
		m.Encoded = im.Code
		for _, ic := range im.Calls {
			callee, ok := p.byName[ic.Callee]
			if !ok {
				return nil, fmt.Errorf("bytecode: %s calls undefined method %q", m.Name, ic.Callee)
			}
			m.CallData = append(m.CallData, CallData{Callee: callee, Argc: ic.Argc})
		}
		if m.Fingerprint() != im.Fingerprint {
			return nil, fmt.Errorf("bytecode: %s fails its fingerprint check", m.Name)
		}
		if err := Verify(m, DirectCoding{}); err != nil {
			return nil, err
		}
		m.Encoded = recode(m, DirectCoding{}, enc).Encoded
	}
	if err := p.validateEntry(); err != nil {
		return nil, err
	}
	return p, nil
}

// recode returns a copy of m whose opcode words are re-encoded with to.
// Operand words are copied unchanged.
func recode(m *Method, from Decoder, to OpEncoder) *Method {
	out := &Method{Name: m.Name, Argc: m.Argc, CallData: m.CallData}
	out.Encoded = make([]uint64, len(m.Encoded))
	copy(out.Encoded, m.Encoded)
	for insn, pos := range Walk(m, from) {
		out.Encoded[pos] = to.EncodeOp(insn.Op)
	}
	return out
}
