/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flowcore

import "encoding/binary"

// V3RecordType is the fixed record-header type tag for a v3 record.
const V3RecordType uint16 = 11

// v3HeaderSize is the byte size of RecordHeaderV3 in its packed wire form:
// type(2) size(2) numElements(2) flags(2) nfVersion(1) engineType(1)
// engineId(1) reserved(1) exporterId(2), then 2 bytes of zero padding.
const v3HeaderSize = 16

// RecordHeaderV3 is the fixed header every v3 record starts with.
type RecordHeaderV3 struct {
	Type        uint16
	Size        uint16
	NumElements uint16
	Flags       uint16
	NfVersion   uint8
	EngineType  uint8
	EngineID    uint8
	reserved    uint8
	ExporterID  uint16
}

// AddV3Header initializes outBuf[0:v3HeaderSize] as a fresh v3 record header
// and returns it decoded, ready for PushExtension calls. outBuf must have at
// least v3HeaderSize bytes.
func AddV3Header(outBuf []byte) *RecordHeaderV3 {
	for i := range outBuf[:v3HeaderSize] {
		outBuf[i] = 0
	}
	h := &RecordHeaderV3{
		Type: V3RecordType,
		Size: v3HeaderSize,
	}
	h.encodeInto(outBuf)
	return h
}

func (h *RecordHeaderV3) encodeInto(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.Type)
	binary.BigEndian.PutUint16(b[2:4], h.Size)
	binary.BigEndian.PutUint16(b[4:6], h.NumElements)
	binary.BigEndian.PutUint16(b[6:8], h.Flags)
	b[8] = h.NfVersion
	b[9] = h.EngineType
	b[10] = h.EngineID
	b[11] = h.reserved
	binary.BigEndian.PutUint16(b[12:14], h.ExporterID)
}

// DecodeV3Header reads a RecordHeaderV3 back out of b[0:v3HeaderSize].
func DecodeV3Header(b []byte) *RecordHeaderV3 {
	return &RecordHeaderV3{
		Type:        binary.BigEndian.Uint16(b[0:2]),
		Size:        binary.BigEndian.Uint16(b[2:4]),
		NumElements: binary.BigEndian.Uint16(b[4:6]),
		Flags:       binary.BigEndian.Uint16(b[6:8]),
		NfVersion:   b[8],
		EngineType:  b[9],
		EngineID:    b[10],
		ExporterID:  binary.BigEndian.Uint16(b[12:14]),
	}
}

// PushExtension appends a new zeroed element block of
// elementHeaderSize+extensionTable[ext].Size+extra bytes at the tail of
// outBuf (i.e. at offset h.Size), writes the element header, bumps h.Size
// and h.NumElements, re-serializes the header in place, and returns the
// element's body offset (where field data should be written) plus the body
// length.
//
// extra is nonzero only for variable-length elements, where the caller
// supplies the field's actual runtime length in addition to the extension's
// fixed portion (which is usually 0 for such extensions).
func PushExtension(outBuf []byte, h *RecordHeaderV3, ext Extension, extra uint16) (bodyOffset int, bodyLen uint16, ok bool) {
	info := extensionTable[ext]
	blockSize := elementHeaderSize + info.Size + extra
	offset := int(h.Size)
	if offset+int(blockSize) > len(outBuf) {
		return 0, 0, false
	}

	block := outBuf[offset : offset+int(blockSize)]
	for i := range block {
		block[i] = 0
	}
	binary.BigEndian.PutUint16(block[0:2], info.WireTag)
	binary.BigEndian.PutUint16(block[2:4], blockSize)

	h.Size += blockSize
	h.NumElements++
	h.encodeInto(outBuf)

	return offset + elementHeaderSize, info.Size + extra, true
}

// VerifyV3Record walks a v3 record already written into b and confirms that
// element boundaries are consistent and the total size is byte-exact,
// grounded on the nfxV3.c VerifyV3Record it mirrors. It never panics on
// malformed input.
func VerifyV3Record(b []byte) bool {
	if len(b) < v3HeaderSize {
		return false
	}
	h := DecodeV3Header(b)
	if h.Type != V3RecordType {
		return false
	}
	if int(h.Size) < v3HeaderSize || int(h.Size) > len(b) {
		return false
	}

	remaining := int(h.Size) - v3HeaderSize
	offset := v3HeaderSize
	count := uint16(0)

	for count < h.NumElements {
		if remaining < elementHeaderSize {
			return false
		}
		elemType := binary.BigEndian.Uint16(b[offset : offset+2])
		elemLen := binary.BigEndian.Uint16(b[offset+2 : offset+4])

		if elemLen == 0 || int(elemLen) > remaining {
			return false
		}
		if elemType >= uint16(MaxExtension) {
			return false
		}
		if int(elemLen) < elementHeaderSize+int(extensionTable[elemType].Size) {
			return false
		}

		remaining -= int(elemLen)
		offset += int(elemLen)
		count++
	}

	return remaining == 0 && count == h.NumElements
}

// FindExtension walks an already-written v3 record and returns the body
// bytes of the first element matching ext, if present.
func FindExtension(b []byte, ext Extension) (body []byte, ok bool) {
	if len(b) < v3HeaderSize {
		return nil, false
	}
	h := DecodeV3Header(b)
	wireTag := extensionTable[ext].WireTag

	remaining := int(h.Size) - v3HeaderSize
	offset := v3HeaderSize
	count := uint16(0)

	for count < h.NumElements && remaining >= elementHeaderSize {
		elemType := binary.BigEndian.Uint16(b[offset : offset+2])
		elemLen := binary.BigEndian.Uint16(b[offset+2 : offset+4])
		if elemLen == 0 || int(elemLen) > remaining {
			return nil, false
		}
		if elemType == wireTag {
			return b[offset+elementHeaderSize : offset+int(elemLen)], true
		}
		remaining -= int(elemLen)
		offset += int(elemLen)
		count++
	}
	return nil, false
}
