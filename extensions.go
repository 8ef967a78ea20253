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

// Extension identifies one semantic group of flow fields that a v3 record may
// carry zero-or-one times. The numbering follows the on-the-wire v3 record
// format's own extension map.
type Extension uint8

const (
	// ExNull is the reserved "no extension"/skip marker. A sequence with
	// ExtensionID == ExNull and no stack slot means "discard these wire
	// bytes".
	ExNull Extension = iota
	ExGenericFlow
	ExIPv4Flow
	ExIPv6Flow
	ExFlowMisc
	ExCntFlow
	ExVLan
	ExASRouting
	ExBGPNextHopV4
	ExBGPNextHopV6
	ExIPNextHopV4
	ExIPNextHopV6
	ExIPReceivedV4
	ExIPReceivedV6
	ExMulIPv4
	ExMulIPv6
	ExMulPacket
	ExRouterID
	ExSamplerInfo
	ExNselCommon
	ExNselXlateIPv4
	ExNselXlateIPv6
	ExNselXlatePort
	ExNselAcl
	ExNselUserID
	ExNatCommon
	ExNatXlatePort
	ExNatPortBlock
	ExNelCommon
	ExNelGlobalIP
	ExLatency
	ExMpls
	ExMpls2
	ExNsel
	ExPayload

	// MaxExtension bounds the extension-id space. Sequences and element
	// headers must carry extension IDs strictly below this value.
	MaxExtension
)

// ExtensionInfo is a static description of one Extension: how it is tagged on
// the wire, how many bytes its packed (fixed-size) form occupies, and its
// display name. Size == 0 marks a variable-length extension; its real size
// is only known once a concrete sequence carries its runtime length.
type ExtensionInfo struct {
	WireTag uint16
	Size    uint16
	Name    string
}

// extensionTable is the static extension registry, analogous in spirit to
// the original's iana/* constant tables, but expressed as a flat array
// since the v3 record vocabulary is a small closed set fixed by the file
// format itself rather than an open, externally maintained registry.
var extensionTable = [MaxExtension]ExtensionInfo{
	ExNull:          {WireTag: 0, Size: 0, Name: "null"},
	ExGenericFlow:   {WireTag: 1, Size: 48, Name: "genericFlow"},
	ExIPv4Flow:      {WireTag: 2, Size: 8, Name: "ipv4Flow"},
	ExIPv6Flow:      {WireTag: 3, Size: 32, Name: "ipv6Flow"},
	ExFlowMisc:      {WireTag: 4, Size: 12, Name: "flowMisc"},
	ExCntFlow:       {WireTag: 5, Size: 24, Name: "cntFlow"},
	ExVLan:          {WireTag: 6, Size: 4, Name: "vLan"},
	ExASRouting:     {WireTag: 7, Size: 8, Name: "asRouting"},
	ExBGPNextHopV4:  {WireTag: 8, Size: 4, Name: "bgpNextHopV4"},
	ExBGPNextHopV6:  {WireTag: 9, Size: 16, Name: "bgpNextHopV6"},
	ExIPNextHopV4:   {WireTag: 10, Size: 4, Name: "ipNextHopV4"},
	ExIPNextHopV6:   {WireTag: 11, Size: 16, Name: "ipNextHopV6"},
	ExIPReceivedV4:  {WireTag: 12, Size: 4, Name: "ipReceivedV4"},
	ExIPReceivedV6:  {WireTag: 13, Size: 16, Name: "ipReceivedV6"},
	ExMulIPv4:       {WireTag: 14, Size: 8, Name: "mulIPv4"},
	ExMulIPv6:       {WireTag: 15, Size: 32, Name: "mulIPv6"},
	ExMulPacket:     {WireTag: 16, Size: 16, Name: "mulPacket"},
	ExRouterID:      {WireTag: 17, Size: 4, Name: "routerId"},
	ExSamplerInfo:   {WireTag: 18, Size: 2, Name: "samplerInfo"},
	ExNselCommon:    {WireTag: 19, Size: 16, Name: "nselCommon"},
	ExNselXlateIPv4: {WireTag: 20, Size: 8, Name: "nselXlateIPv4"},
	ExNselXlateIPv6: {WireTag: 21, Size: 32, Name: "nselXlateIPv6"},
	ExNselXlatePort: {WireTag: 22, Size: 4, Name: "nselXlatePort"},
	ExNselAcl:       {WireTag: 23, Size: 12, Name: "nselAcl"},
	ExNselUserID:    {WireTag: 24, Size: 66, Name: "nselUser"},
	ExNatCommon:     {WireTag: 25, Size: 8, Name: "natCommon"},
	ExNatXlatePort:  {WireTag: 26, Size: 4, Name: "natXlatePort"},
	ExNatPortBlock:  {WireTag: 27, Size: 8, Name: "natPortBlock"},
	ExNelCommon:     {WireTag: 28, Size: 12, Name: "nelCommon"},
	ExNelGlobalIP:   {WireTag: 29, Size: 4, Name: "nelGlobalIP"},
	ExLatency:       {WireTag: 30, Size: 24, Name: "latency"},
	ExMpls:          {WireTag: 31, Size: 40, Name: "mpls"},
	ExMpls2:         {WireTag: 32, Size: 8, Name: "mpls2"},
	ExNsel:          {WireTag: 33, Size: 4, Name: "nsel"},
	ExPayload:       {WireTag: 34, Size: 0, Name: "payload"},
}

// elementHeaderSize is the on-the-wire size of one v3 record element's
// {type, length} prefix.
const elementHeaderSize = 4

// genericFlow body layout, grounded on nfdump's EXgenericFlow_t: msecFirst,
// msecLast, msecReceived, inPackets, inBytes, srcPort, dstPort, proto, tos,
// tcpFlags packed in that order. Both the template-driven sequencer
// (ietable.go) and the legacy v1/v5/v7 decoders (netflow_legacy.go) write
// through these offsets so the two decode paths cannot silently diverge on
// where a count or timestamp lives.
const (
	genericFlowMsecFirstOff    = 0
	genericFlowMsecLastOff     = 8
	genericFlowMsecReceivedOff = 16
	genericFlowInPacketsOff    = 24
	genericFlowInBytesOff      = 32
	genericFlowSrcPortOff      = 40
	genericFlowDstPortOff      = 42
	genericFlowProtoOff        = 44
	genericFlowTosOff          = 45
	genericFlowTCPFlagsOff     = 46
)

// IsValidExtension reports whether id falls in the valid extension-id
// range [1, MaxExtension).
func IsValidExtension(id Extension) bool {
	return id > ExNull && id < MaxExtension
}
