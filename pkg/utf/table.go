// Package utf implements the codec for CRI "@UTF" key/value page
// tables: the metadata, directory, header, and seek-index
// payloads carried inside USM chunks.
package utf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cri-works/gousm/pkg/usmerrors"
)

const preludeSize = 24
const nullString = "<NULL>"

// EncodeTable encodes a nonempty, schema-homogeneous list of pages into
// an "@UTF" page table. stringPadding adds
// that many trailing NUL bytes after the string pool; the top-level
// directory page uses 5, everything else typically uses 0.
func EncodeTable(pages []*Page, enc Encoding, stringPadding int) ([]byte, error) {
	if len(pages) == 0 {
		return nil, usmerrors.ErrInvalidPageTable{Reason: "no pages given"}
	}

	name := pages[0].Name()
	keys := pages[0].Keys()
	for _, p := range pages[1:] {
		if !p.SameSchema(pages[0]) {
			return nil, usmerrors.ErrInvalidPageTable{Reason: "pages don't share a name/key schema"}
		}
	}

	stringPool := []byte(nullString + "\x00")

	intern := func(s string) (uint32, error) {
		off := uint32(len(stringPool))
		b, err := enc.encodeString(s)
		if err != nil {
			return 0, err
		}
		stringPool = append(stringPool, b...)
		stringPool = append(stringPool, 0)
		return off, nil
	}

	pageNameOffset, err := intern(name)
	if err != nil {
		return nil, err
	}

	type columnInfo struct {
		nameOffset uint32
		recurring  bool
	}
	infos := make(map[string]columnInfo, len(keys))
	for _, k := range keys {
		off, err := intern(k)
		if err != nil {
			return nil, err
		}

		recurring := len(pages) > 1
		if recurring {
			first, _ := pages[0].Get(k)
			for _, p := range pages[1:] {
				v, _ := p.Get(k)
				if !v.Equal(first) {
					recurring = false
					break
				}
			}
		}
		infos[k] = columnInfo{nameOffset: off, recurring: recurring}
	}

	var shared, unique, byteArr []byte
	appendValue := func(dst []byte, el Element) ([]byte, error) {
		switch el.Type {
		case TypeI8:
			v, _ := el.I8()
			return append(dst, byte(v)), nil
		case TypeU8:
			v, _ := el.U8()
			return append(dst, v), nil
		case TypeI16:
			v, _ := el.I16()
			return binary.BigEndian.AppendUint16(dst, uint16(v)), nil
		case TypeU16:
			v, _ := el.U16()
			return binary.BigEndian.AppendUint16(dst, v), nil
		case TypeI32:
			v, _ := el.I32()
			return binary.BigEndian.AppendUint32(dst, uint32(v)), nil
		case TypeU32:
			v, _ := el.U32()
			return binary.BigEndian.AppendUint32(dst, v), nil
		case TypeI64:
			v, _ := el.I64()
			return binary.BigEndian.AppendUint64(dst, uint64(v)), nil
		case TypeU64:
			v, _ := el.U64()
			return binary.BigEndian.AppendUint64(dst, v), nil
		case TypeF32:
			v, _ := el.F32()
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			return append(dst, buf[:]...), nil
		case TypeF64:
			v, _ := el.F64()
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			return append(dst, buf[:]...), nil
		case TypeString:
			v, _ := el.String()
			off, err := intern(v)
			if err != nil {
				return nil, err
			}
			return binary.BigEndian.AppendUint32(dst, off), nil
		case TypeBytes:
			v, _ := el.Bytes()
			start := uint32(len(byteArr))
			byteArr = append(byteArr, v...)
			end := uint32(len(byteArr))
			dst = binary.BigEndian.AppendUint32(dst, start)
			return binary.BigEndian.AppendUint32(dst, end), nil
		default:
			return nil, usmerrors.ErrInvalidPageTable{Reason: fmt.Sprintf("unknown element type %#x", uint8(el.Type))}
		}
	}

	for i, p := range pages {
		for _, k := range keys {
			el, ok := p.Get(k)
			if !ok {
				return nil, usmerrors.ErrInvalidPageTable{Reason: fmt.Sprintf("page missing column %q", k)}
			}
			info := infos[k]

			if info.recurring {
				if i != 0 {
					continue
				}
				shared = append(shared, (1<<5)|byte(el.Type))
				shared = binary.BigEndian.AppendUint32(shared, info.nameOffset)
				shared, err = appendValue(shared, el)
				if err != nil {
					return nil, err
				}
				continue
			}

			if i == 0 {
				shared = append(shared, (2<<5)|byte(el.Type))
				shared = binary.BigEndian.AppendUint32(shared, info.nameOffset)
			}
			unique, err = appendValue(unique, el)
			if err != nil {
				return nil, err
			}
		}
	}

	if stringPadding > 0 {
		stringPool = append(stringPool, make([]byte, stringPadding)...)
	}

	dataSize := preludeSize + len(shared) + len(unique) + len(stringPool) + len(byteArr)
	uniqueOffset := preludeSize + len(shared)
	stringsOffset := preludeSize + len(shared) + len(unique)
	byteArrOffset := preludeSize + len(shared) + len(unique) + len(stringPool)

	uniqueSizePerPage := 0
	if len(pages) > 0 {
		uniqueSizePerPage = len(unique) / len(pages)
	}

	out := make([]byte, 0, 8+dataSize)
	out = append(out, "@UTF"...)
	out = binary.BigEndian.AppendUint32(out, uint32(dataSize))
	out = binary.BigEndian.AppendUint32(out, uint32(uniqueOffset))
	out = binary.BigEndian.AppendUint32(out, uint32(stringsOffset))
	out = binary.BigEndian.AppendUint32(out, uint32(byteArrOffset))
	out = binary.BigEndian.AppendUint32(out, pageNameOffset)
	out = binary.BigEndian.AppendUint16(out, uint16(len(keys)))
	out = binary.BigEndian.AppendUint16(out, uint16(uniqueSizePerPage))
	out = binary.BigEndian.AppendUint32(out, uint32(len(pages)))
	out = append(out, shared...)
	out = append(out, unique...)
	out = append(out, stringPool...)
	out = append(out, byteArr...)
	return out, nil
}

// DecodeTable decodes an "@UTF" page table, mirroring EncodeTable.
func DecodeTable(data []byte, enc Encoding) ([]*Page, error) {
	if len(data) < 8+preludeSize || !bytes.Equal(data[:4], []byte("@UTF")) {
		return nil, usmerrors.ErrInvalidPageTable{Reason: "bad @UTF magic"}
	}

	payloadSize := binary.BigEndian.Uint32(data[4:8])
	if uint64(len(data)) < uint64(8)+uint64(payloadSize) {
		return nil, usmerrors.ErrInvalidPageTable{Reason: "truncated payload"}
	}

	uniqueOffset := binary.BigEndian.Uint32(data[8:12])
	stringsOffset := binary.BigEndian.Uint32(data[12:16])
	byteArrOffset := binary.BigEndian.Uint32(data[16:20])
	pageNameOffset := binary.BigEndian.Uint32(data[20:24])
	numElementsPerPage := binary.BigEndian.Uint16(data[24:26])
	uniqueSizePerPage := binary.BigEndian.Uint16(data[26:28])
	numPages := binary.BigEndian.Uint32(data[28:32])

	if uint64(8)+uint64(stringsOffset) > uint64(8)+uint64(byteArrOffset) ||
		uint64(8)+uint64(byteArrOffset) > uint64(8)+uint64(payloadSize) ||
		uint64(8)+uint64(uniqueOffset) > uint64(8)+uint64(stringsOffset) {
		return nil, usmerrors.ErrInvalidPageTable{Reason: "region offsets out of range"}
	}

	stringArray := data[8+stringsOffset : 8+byteArrOffset]
	byteArray := data[8+byteArrOffset : 8+payloadSize]

	readString := func(pool []byte, offset uint32) (string, error) {
		if uint64(offset) >= uint64(len(pool)) {
			return "", usmerrors.ErrInvalidPageTable{Reason: "string offset out of range"}
		}
		end := bytes.IndexByte(pool[offset:], 0)
		if end < 0 {
			return "", usmerrors.ErrInvalidPageTable{Reason: "unterminated string"}
		}
		return enc.decodeString(pool[offset : offset+uint32(end)])
	}

	pageName, err := readString(stringArray, pageNameOffset)
	if err != nil {
		return nil, err
	}

	uniqueArrayLen := uint64(uniqueSizePerPage) * uint64(numPages)
	if uint64(8)+uint64(uniqueOffset)+uniqueArrayLen > uint64(8)+uint64(stringsOffset) {
		return nil, usmerrors.ErrInvalidPageTable{Reason: "unique array overruns string pool"}
	}
	uniqueArray := data[8+uniqueOffset : uint64(8+uniqueOffset)+uniqueArrayLen]
	schemaRegion := data[preludeSize+8 : 8+uniqueOffset]

	decodeValue := func(t ElementType, cell []byte) (Element, error) {
		switch t {
		case TypeI8:
			return NewI8(int8(cell[0])), nil
		case TypeU8:
			return NewU8(cell[0]), nil
		case TypeI16:
			return NewI16(int16(binary.BigEndian.Uint16(cell))), nil
		case TypeU16:
			return NewU16(binary.BigEndian.Uint16(cell)), nil
		case TypeI32:
			return NewI32(int32(binary.BigEndian.Uint32(cell))), nil
		case TypeU32:
			return NewU32(binary.BigEndian.Uint32(cell)), nil
		case TypeI64:
			return NewI64(int64(binary.BigEndian.Uint64(cell))), nil
		case TypeU64:
			return NewU64(binary.BigEndian.Uint64(cell)), nil
		case TypeF32:
			return NewF32(math.Float32frombits(binary.LittleEndian.Uint32(cell))), nil
		case TypeF64:
			return NewF64(math.Float64frombits(binary.LittleEndian.Uint64(cell))), nil
		case TypeString:
			s, err := readString(stringArray, binary.BigEndian.Uint32(cell))
			if err != nil {
				return Element{}, err
			}
			return NewString(s), nil
		case TypeBytes:
			start := binary.BigEndian.Uint32(cell[0:4])
			end := binary.BigEndian.Uint32(cell[4:8])
			if end < start || uint64(end) > uint64(len(byteArray)) {
				return Element{}, usmerrors.ErrInvalidPageTable{Reason: "byte range out of range"}
			}
			b := make([]byte, end-start)
			copy(b, byteArray[start:end])
			return NewBytes(b), nil
		default:
			return Element{}, usmerrors.ErrInvalidPageTable{Reason: fmt.Sprintf("unknown type tag %#x", uint8(t))}
		}
	}

	pages := make([]*Page, numPages)
	consumedUnique := 0
	for pageIdx := range pages {
		page := NewPage(pageName)
		pos := 0
		for col := 0; col < int(numElementsPerPage); col++ {
			if pos+5 > len(schemaRegion) {
				return nil, usmerrors.ErrInvalidPageTable{Reason: "schema region truncated"}
			}
			descriptor := schemaRegion[pos]
			elemType := ElementType(descriptor & 0x1F)
			occurrence := descriptor >> 5
			nameOffset := binary.BigEndian.Uint32(schemaRegion[pos+1 : pos+5])
			pos += 5

			colName, err := readString(stringArray, nameOffset)
			if err != nil {
				return nil, err
			}

			size, err := elemType.fixedSize()
			if err != nil {
				return nil, usmerrors.ErrInvalidPageTable{Reason: err.Error()}
			}

			var cell []byte
			switch occurrence {
			case 1: // recurring / shared
				if pos+size > len(schemaRegion) {
					return nil, usmerrors.ErrInvalidPageTable{Reason: "shared array truncated"}
				}
				cell = schemaRegion[pos : pos+size]
				pos += size
			case 2: // non-recurring / unique
				if consumedUnique+size > len(uniqueArray) {
					return nil, usmerrors.ErrInvalidPageTable{Reason: "unique array truncated"}
				}
				cell = uniqueArray[consumedUnique : consumedUnique+size]
				consumedUnique += size
			default:
				return nil, usmerrors.ErrInvalidPageTable{Reason: fmt.Sprintf("unknown occurrence %d", occurrence)}
			}

			el, err := decodeValue(elemType, cell)
			if err != nil {
				return nil, err
			}
			page.Set(colName, el)
		}
		pages[pageIdx] = page
	}

	return pages, nil
}
