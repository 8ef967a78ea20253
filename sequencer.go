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

import "fmt"

// VarLength marks a sequence's InputLength or OutputLength as variable,
// i.e. encoded with a length prefix on the wire, or sized by its source
// field at runtime.
const VarLength uint16 = 0xFFFF

// maxNestDepth bounds subTemplateList/subTemplateMultiList recursion depth.
const maxNestDepth = 16

// CopyMode selects how a sequence's payload bytes are interpreted.
type CopyMode uint8

const (
	// CopyInteger reads the input as a big-endian integer of width
	// InputLength and stores it at width OutputLength, byte-swapping and
	// widening/narrowing as needed.
	CopyInteger CopyMode = iota
	// CopyBytes transfers the input verbatim, byte for byte.
	CopyBytes
)

// subTemplateKind distinguishes IPFIX's two recursive container field types.
type subTemplateKind uint16

const (
	subTemplateList      subTemplateKind = 292
	subTemplateMultiList subTemplateKind = 293
)

// Sequence is one transcoding step compiled from a template. It is
// deliberately kept as a single flat struct rather than a tagged-union of
// step kinds, because the hot path in Run() dispatches on
// ExtensionID/InputType/StackSlot directly — splitting into
// Skip/CopyInt/CopyBytes/SubTemplate variants would just reintroduce a
// type switch in the same place the original overloads a few zero-value
// fields.
type Sequence struct {
	// InputType identifies the wire field (e.g. the IPFIX/NetFlow-v9
	// information element number). InputType 292/293 select sub-template
	// list/multilist processing when ExtensionID==ExNull.
	InputType uint16
	// InputLength is the wire field's byte width, or VarLength.
	InputLength uint16

	// ExtensionID selects which v3 extension this sequence contributes to.
	// ExNull means "skip/consume only" (or recurse into a sub-template, if
	// InputType is 292/293).
	ExtensionID Extension

	// OutputLength is the packed element width: one of
	// {0,1,2,4,8,16,InputLength,VarLength}. 0 means "stack-only, do not
	// store".
	OutputLength uint16

	// OffsetRel is the byte offset within the extension's element body
	// this sequence writes to.
	OffsetRel uint16

	// StackSlot, if nonzero, additionally copies the integer value read
	// into Stack[StackSlot] for later sequences (e.g. carrying a sampler
	// ID read from one IE into another extension).
	StackSlot uint8

	CopyMode CopyMode
}

// Sequencer is a compiled template: an ordered plan for transcoding wire
// bytes to packed v3 element blocks.
type Sequencer struct {
	TemplateID uint16

	Sequences []Sequence

	// extSize caches, per extension, the packed body size (fixed size plus
	// any fixed-width variable tail) computed during Setup; the element
	// header is not included and is added when OutLength is summed.
	extSize [MaxExtension]uint16

	InLength    int // 0 if any input field is variable
	OutLength   int // 0 if any output field is variable
	NumElements int

	// Siblings holds sub-template sequencers reachable from this one via
	// subTemplateList/subTemplateMultiList fields, keyed by their own
	// TemplateID. This replaces the original's circular "next" pointer
	// list with an owning map indexed by integer ID.
	Siblings map[uint16]*Sequencer
}

// compact merges adjacent pure-skip sequences (ExtensionID==ExNull,
// StackSlot==0, fixed InputLength) into one wider skip, eliminating a class
// of redundant copy steps. Mirrors nfxV3.c's CompactSequencer.
func compact(seqs []Sequence) []Sequence {
	out := make([]Sequence, 0, len(seqs))
	i := 0
	for i < len(seqs) {
		s := seqs[i]
		if !isPureSkip(s) {
			out = append(out, s)
			i++
			continue
		}
		merged := s
		j := i + 1
		for j < len(seqs) && isPureSkip(seqs[j]) {
			merged.InputLength += seqs[j].InputLength
			j++
		}
		out = append(out, merged)
		i = j
	}
	return out
}

func isPureSkip(s Sequence) bool {
	return s.ExtensionID == ExNull && s.StackSlot == 0 && s.InputLength != VarLength
}

// SetupSequencer compiles an ordered list of sequences into a Sequencer. It
// returns the sequencer plus the ascending-order list of extension IDs it
// publishes (the template's published extension vector).
func SetupSequencer(templateID uint16, sequences []Sequence) (*Sequencer, []Extension) {
	seq := &Sequencer{
		TemplateID: templateID,
		Sequences:  compact(sequences),
		Siblings:   map[uint16]*Sequencer{},
	}

	hasVarIn := false
	hasVarOut := false

	for i := range seq.Sequences {
		s := &seq.Sequences[i]
		ext := s.ExtensionID

		if s.InputLength == VarLength {
			hasVarIn = true
		} else {
			seq.InLength += int(s.InputLength)
		}

		if s.OutputLength == VarLength {
			if s.InputLength != VarLength {
				// fixed input, variable-output rewritten to input width
				// 
				s.OutputLength = s.InputLength
				seq.extSize[ext] = s.OutputLength + extensionTable[ext].Size
			} else {
				seq.extSize[ext] = extensionTable[ext].Size
				hasVarOut = true
			}
		} else if ext != ExNull {
			seq.extSize[ext] = extensionTable[ext].Size
		}
	}

	extList := make([]Extension, 0, MaxExtension)
	for e := ExGenericFlow; e < MaxExtension; e++ {
		if seq.extSize[e] > 0 || (seq.extSize[e] == 0 && extensionPublished(seq.Sequences, e)) {
			seq.OutLength += int(seq.extSize[e]) + elementHeaderSize
			seq.NumElements++
			extList = append(extList, e)
		}
	}

	if hasVarIn {
		seq.InLength = 0
	}
	if hasVarOut {
		seq.OutLength = 0
	}

	return seq, extList
}

// extensionPublished reports whether any compiled sequence targets ext, even
// if its packed size happens to be zero (e.g. a variable-length field whose
// fixed portion is zero bytes).
func extensionPublished(seqs []Sequence, ext Extension) bool {
	for _, s := range seqs {
		if s.ExtensionID == ext {
			return true
		}
	}
	return false
}

// SeqResult is the outcome of a Sequencer.Run call.
type SeqResult uint8

const (
	SeqOK SeqResult = iota
	SeqError
	SeqMemErr
	// SeqOverrun marks the specific case where a field declares more bytes
	// than the remaining input carries, distinct from other structural
	// failures (bad nesting, unsupported sub-template) reported as SeqError.
	SeqOverrun
)

// Run executes the compiled sequencer over one wire record, transcoding
// fields into extension blocks appended to outBuf starting right after an
// already-initialized v3 header (AddV3Header must have been called first).
// stack is shared across sibling sub-template invocations within one v3
// record. It returns the number of input bytes consumed, which callers
// iterating a data set packed with variable-length records need to find the
// next record's start.
func (s *Sequencer) Run(in []byte, outBuf []byte, h *RecordHeaderV3, stack []uint64) (consumed int, result SeqResult) {
	return s.run(in, outBuf, h, stack, 0)
}

func (s *Sequencer) run(in []byte, outBuf []byte, h *RecordHeaderV3, stack []uint64, depth int) (consumed int, result SeqResult) {
	if len(in) == 0 {
		return 0, SeqOK
	}
	if depth > maxNestDepth {
		return 0, SeqError
	}

	r := NewReader(in)
	// per-extension element body offsets discovered within this call; a
	// sub-template's own elements never alias the parent's cache, mirroring
	// the original per-call offsetCache reset.
	offsetCache := map[Extension]int{}

	for i := range s.Sequences {
		seqDef := s.Sequences[i]
		inLength := seqDef.InputLength
		varLength := inLength == VarLength

		if varLength {
			lenByte := r.GetU8()
			if lenByte < 255 {
				inLength = uint16(lenByte)
			} else {
				inLength = r.GetU16()
			}
			if r.IsError() {
				return r.Cursor(), SeqOverrun
			}
		}

		if r.Available() < int(inLength) {
			return r.Cursor(), SeqOverrun
		}

		ext := seqDef.ExtensionID
		if ext == ExNull && seqDef.StackSlot == 0 {
			if seqDef.InputType == uint16(subTemplateList) || seqDef.InputType == uint16(subTemplateMultiList) {
				sub := r.Bytes(int(inLength))
				if _, res := s.processSubTemplate(seqDef.InputType, sub, outBuf, h, stack, depth); res != SeqOK {
					return r.Cursor(), res
				}
				continue
			}
			r.Skip(int(inLength))
			continue
		}

		bodyOffset, cached := offsetCache[ext]
		if !cached {
			extra := uint16(0)
			outLength := seqDef.OutputLength
			if outLength == VarLength {
				outLength = inLength
				extra = outLength
			}
			off, _, ok := PushExtension(outBuf, h, ext, extra)
			if !ok {
				return r.Cursor(), SeqMemErr
			}
			bodyOffset = off
			offsetCache[ext] = off
		}

		if inLength == 0 {
			// placeholder: extension present but field carries no bytes
			continue
		}

		field := r.Bytes(int(inLength))
		if r.IsError() {
			return r.Cursor(), SeqOverrun
		}

		outLength := seqDef.OutputLength
		if outLength == VarLength {
			outLength = inLength
		}
		dst := outBuf[bodyOffset+int(seqDef.OffsetRel):]

		if varLength || seqDef.CopyMode == CopyBytes || inLength > 16 {
			copyLen := int(inLength)
			if int(outLength) < copyLen {
				copyLen = int(outLength)
			}
			copy(dst, field[:copyLen])
			continue
		}

		if err := copyInteger(field, dst, int(inLength), outLength, seqDef.StackSlot, stack); err != SeqOK {
			return r.Cursor(), err
		}
	}

	return r.Cursor(), SeqOK
}

// copyInteger reads a big-endian integer of byte-width inLength from field,
// optionally stacks its low 64 bits, and stores it at width outLength into
// dst step 6.
func copyInteger(field, dst []byte, inLength int, outLength uint16, stackSlot uint8, stack []uint64) SeqResult {
	var hi, lo uint64
	switch {
	case inLength == 16:
		for i := 0; i < 8; i++ {
			hi = hi<<8 | uint64(field[i])
		}
		for i := 8; i < 16; i++ {
			lo = lo<<8 | uint64(field[i])
		}
	case inLength >= 1 && inLength <= 8:
		for i := 0; i < inLength; i++ {
			lo = lo<<8 | uint64(field[i])
		}
	default:
		// widths 9..15 excluding 16: byte-copy into the low bits,
		// matching the original's memcpy(valBuff, inBuff, inLength)
		// fallback for odd widths.
		n := inLength
		if n > 8 {
			n = 8
		}
		for i := 0; i < n; i++ {
			lo = lo<<8 | uint64(field[i])
		}
	}

	if stackSlot != 0 && int(stackSlot) < len(stack) {
		stack[stackSlot] = lo
	}

	switch outLength {
	case 0:
		// stack-only
	case 1:
		dst[0] = byte(lo)
	case 2:
		dst[0] = byte(lo >> 8)
		dst[1] = byte(lo)
	case 4:
		dst[0] = byte(lo >> 24)
		dst[1] = byte(lo >> 16)
		dst[2] = byte(lo >> 8)
		dst[3] = byte(lo)
	case 8:
		for i := 0; i < 8; i++ {
			dst[i] = byte(lo >> (56 - 8*i))
		}
	case 16:
		for i := 0; i < 8; i++ {
			dst[i] = byte(hi >> (56 - 8*i))
		}
		for i := 0; i < 8; i++ {
			dst[8+i] = byte(lo >> (56 - 8*i))
		}
	default:
		return SeqError
	}
	return SeqOK
}

// processSubTemplate implements the wire format's recursive handling of IPFIX
// subTemplateList (292) and subTemplateMultiList (293) fields.
func (s *Sequencer) processSubTemplate(kind uint16, payload []byte, outBuf []byte, h *RecordHeaderV3, stack []uint64, depth int) (int, SeqResult) {
	if len(payload) < 1 {
		return 0, SeqError
	}
	// one semantic byte, currently unused beyond being consumed.
	payload = payload[1:]

	switch subTemplateKind(kind) {
	case subTemplateMultiList:
		for len(payload) > 4 {
			r := NewReader(payload)
			subID := r.GetU16()
			subLen := r.GetU16()
			if r.IsError() || int(subLen) > len(payload)-4 {
				return 0, SeqError
			}
			subPayload := payload[4 : 4+subLen]
			if sub, ok := s.Siblings[subID]; ok {
				if _, res := sub.run(subPayload, outBuf, h, stack, depth+1); res != SeqOK {
					return 0, res
				}
			}
			payload = payload[4+subLen:]
		}
		return 0, SeqOK
	case subTemplateList:
		if len(payload) < 2 {
			return 0, SeqError
		}
		r := NewReader(payload)
		subID := r.GetU16()
		rest := payload[2:]
		if sub, ok := s.Siblings[subID]; ok {
			return sub.run(rest, outBuf, h, stack, depth+1)
		}
		return 0, SeqOK
	default:
		return 0, SeqOK
	}
}

func (r SeqResult) Error() string {
	switch r {
	case SeqOK:
		return "ok"
	case SeqError:
		return "malformed sequencer input"
	case SeqMemErr:
		return "output buffer too small"
	case SeqOverrun:
		return "read past input bounds"
	default:
		return fmt.Sprintf("unknown sequencer result %d", uint8(r))
	}
}
