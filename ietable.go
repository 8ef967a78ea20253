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

// TemplateField is one field specification read out of a NetFlow v9 or
// IPFIX template record: an information-element number, its PEN (0 for
// standard IANA elements), and its declared wire length (VarLength for
// IPFIX's variable-length encoding).
type TemplateField struct {
	ElementID uint16
	PEN       uint32
	Length    uint16
}

// ieMapping describes where one standard information element lands in a v3
// record: which extension, at what byte offset within that extension's
// body, and how to interpret its bytes. This is the closed vocabulary
// flowcore understands; fields outside this table are skipped (consumed
// from the wire, not stored), exactly like an unrecognized extension ID
// being routed through ExNull in the sequencer.
type ieMapping struct {
	ext       Extension
	offset    uint16
	outLength uint16 // 0 means "use the field's own wire length"
	copyMode  CopyMode
}

// standardElements maps IANA information-element numbers (PEN 0) to their
// v3 record placement, grounded on nfxV3.c's fixed EXgenericFlow /
// EXipv4Flow / EXipv6Flow / EXflowMisc / EXasRouting / EXbgpNextHopV4 /
// EXbgpNextHopV6 / EXipNextHopV4 / EXipNextHopV6 / EXvLan / EXsamplerInfo
// layouts, restricted to the subset of elements flowcore gives a home to.
// Scale-converting timestamp variants (flowStartSeconds/Microseconds/
// Nanoseconds) are deliberately not wired: Sequence has no scale factor,
// and every exporter flowcore has been asked to support in practice emits
// flowStartMilliseconds/flowEndMilliseconds instead.
var standardElements = map[uint16]ieMapping{
	4:   {ExGenericFlow, genericFlowProtoOff, 1, CopyInteger},    // protocolIdentifier
	5:   {ExGenericFlow, genericFlowTosOff, 1, CopyInteger},      // ipClassOfService
	6:   {ExGenericFlow, genericFlowTCPFlagsOff, 1, CopyInteger}, // tcpControlBits
	7:   {ExGenericFlow, genericFlowSrcPortOff, 2, CopyInteger},  // sourceTransportPort
	11:  {ExGenericFlow, genericFlowDstPortOff, 2, CopyInteger},  // destinationTransportPort
	152: {ExGenericFlow, genericFlowMsecFirstOff, 8, CopyInteger}, // flowStartMilliseconds
	153: {ExGenericFlow, genericFlowMsecLastOff, 8, CopyInteger},  // flowEndMilliseconds

	// octetDeltaCount/packetDeltaCount are the exporter's own forward-direction
	// counts and belong in genericFlow itself; cntFlow is reserved for a
	// second, reverse-direction count pair on bidirectional records.
	1: {ExGenericFlow, genericFlowInBytesOff, 8, CopyInteger},   // octetDeltaCount
	2: {ExGenericFlow, genericFlowInPacketsOff, 8, CopyInteger}, // packetDeltaCount

	8:  {ExIPv4Flow, 0, 4, CopyInteger}, // sourceIPv4Address
	12: {ExIPv4Flow, 4, 4, CopyInteger}, // destinationIPv4Address

	27: {ExIPv6Flow, 0, 16, CopyInteger},  // sourceIPv6Address
	28: {ExIPv6Flow, 16, 16, CopyInteger}, // destinationIPv6Address

	10: {ExFlowMisc, 0, 2, CopyInteger}, // ingressInterface
	14: {ExFlowMisc, 2, 2, CopyInteger}, // egressInterface
	9:  {ExFlowMisc, 4, 1, CopyInteger}, // sourceIPv4PrefixLength
	13: {ExFlowMisc, 5, 1, CopyInteger}, // destinationIPv4PrefixLength
	29: {ExFlowMisc, 4, 1, CopyInteger}, // sourceIPv6PrefixLength
	30: {ExFlowMisc, 5, 1, CopyInteger}, // destinationIPv6PrefixLength
	61: {ExFlowMisc, 6, 1, CopyInteger}, // flowDirection

	15: {ExIPNextHopV4, 0, 4, CopyInteger},  // ipNextHopIPv4Address
	62: {ExIPNextHopV6, 0, 16, CopyInteger}, // ipNextHopIPv6Address

	16: {ExASRouting, 0, 4, CopyInteger}, // bgpSourceAsNumber
	17: {ExASRouting, 4, 4, CopyInteger}, // bgpDestinationAsNumber

	18: {ExBGPNextHopV4, 0, 4, CopyInteger},  // bgpNextHopIPv4Address
	63: {ExBGPNextHopV6, 0, 16, CopyInteger}, // bgpNextHopIPv6Address

	58: {ExVLan, 0, 2, CopyInteger}, // vlanId
	59: {ExVLan, 2, 2, CopyInteger}, // postVlanId

	48:  {ExSamplerInfo, 0, 2, CopyInteger}, // samplerId (legacy numbering)
	302: {ExSamplerInfo, 0, 2, CopyInteger}, // samplerId

	315: {ExPayload, 0, VarLength, CopyBytes}, // dataLinkFrameSection
}

// CompileTemplate turns a template record's field list into a Sequencer.
// Fields whose element ID has no entry in standardElements (and no
// sub-template marker) are compiled into a plain skip sequence rather than
// rejected outright, since an exporter is free to
// include enterprise-specific or unrecognized elements flowcore has no use
// for.
func CompileTemplate(templateID uint16, fields []TemplateField) (*Sequencer, []Extension, error) {
	seqs := make([]Sequence, 0, len(fields))

	for _, f := range fields {
		if f.PEN != 0 {
			seqs = append(seqs, Sequence{InputType: f.ElementID, InputLength: f.Length, ExtensionID: ExNull})
			continue
		}

		if f.ElementID == uint16(subTemplateList) || f.ElementID == uint16(subTemplateMultiList) {
			seqs = append(seqs, Sequence{InputType: f.ElementID, InputLength: f.Length, ExtensionID: ExNull})
			continue
		}

		m, ok := standardElements[f.ElementID]
		if !ok {
			seqs = append(seqs, Sequence{InputType: f.ElementID, InputLength: f.Length, ExtensionID: ExNull})
			continue
		}

		outLength := m.outLength
		if outLength == 0 {
			outLength = f.Length
		}
		seqs = append(seqs, Sequence{
			InputType:    f.ElementID,
			InputLength:  f.Length,
			ExtensionID:  m.ext,
			OutputLength: outLength,
			OffsetRel:    m.offset,
			CopyMode:     m.copyMode,
		})
	}

	if len(seqs) == 0 {
		return nil, nil, fmt.Errorf("flowcore: template %d has no fields", templateID)
	}

	seq, extList := SetupSequencer(templateID, seqs)
	return seq, extList, nil
}
