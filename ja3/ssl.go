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

// Package ja3 parses captured TLS ClientHello/ServerHello handshakes and
// computes JA3 fingerprints from them, grounded on nfdump's
// libnfdump/ssl and libnfdump/ja3 sources.
package ja3

import (
	"encoding/binary"
	"errors"
)

// HandshakeType distinguishes a parsed ClientHello from a ServerHello.
type HandshakeType uint8

const (
	ClientHandshake HandshakeType = 1
	ServerHandshake HandshakeType = 2
)

// recordType/handshakeType are the TLS record and handshake message type
// tags sslProcess dispatches on.
const (
	recordTypeHandshake   = 0x16
	handshakeHelloRequest = 0
	handshakeClientHello  = 1
	handshakeServerHello  = 2
)

var (
	ErrNotHandshake  = errors.New("ja3: not a TLS handshake record")
	ErrBufferTooShort = errors.New("ja3: buffer too short to parse handshake")
	ErrUnsupportedMessage = errors.New("ja3: handshake message is neither ClientHello nor ServerHello")
)

// Handshake is the subset of a TLS ClientHello/ServerHello that a JA3/JA3S
// fingerprint is computed from, mirroring nfdump's ssl_t.
type Handshake struct {
	Type HandshakeType

	Version uint16
	// VersionLabel is the two-character protocol version label, e.g. "12"
	// for TLS 1.2. Deliberately NOT unified between client and server: the
	// original C implementation labels version 0x0302 as "11" on the
	// client path and "12" on the server path, and this inconsistency is
	// preserved rather than silently normalized, since both labelings are
	// observed in the wild depending on which side produced the record.
	VersionLabel string

	CipherSuites    []uint16
	Extensions      []uint16
	EllipticCurves  []uint16
	EllipticCurvePF []uint8

	SNI  string
	ALPN string
}

// clientVersionLabels and serverVersionLabels reproduce sslParseClientHandshake's
// and sslParseServerHandshake's switch statements verbatim, including their
// disagreement at 0x0302.
var clientVersionLabels = map[uint16]string{
	0x0002: "s2", 0x0300: "s3", 0x0301: "10", 0x0302: "11", 0x0303: "12", 0x0304: "13",
}

var serverVersionLabels = map[uint16]string{
	0x0002: "s2", 0x0300: "s3", 0x0301: "10", 0x0302: "12", 0x0303: "12", 0x0304: "13",
}

// IsGREASE reports whether a cipher/extension/group/version value is one of
// TLS's reserved GREASE values (RFC 8701): low and high byte identical and
// low nibble of each byte equal to 0xA, e.g. 0x0a0a, 0x1a1a, ..., 0xfafa.
func IsGREASE(v uint16) bool {
	if v&0x0f0f != 0x0a0a {
		return false
	}
	return byte(v>>8) == byte(v)
}

// Parse dispatches on the TLS record and handshake type, returning a
// Handshake for ClientHello or ServerHello messages. Any other handshake
// message type is reported as ErrUnsupportedMessage rather than silently
// ignored, so callers can distinguish "not interesting" from "malformed".
func Parse(data []byte) (*Handshake, error) {
	if len(data) < 9 || data[0] != recordTypeHandshake {
		return nil, ErrNotHandshake
	}
	// data[1:3] record version, data[3:5] record length (unused: TCP
	// reassembly is assumed to have already delivered one full record).
	msgType := data[5]
	// data[6:9] 24-bit handshake message length.

	body := data[9:]
	switch msgType {
	case handshakeClientHello:
		return parseHello(body, ClientHandshake)
	case handshakeServerHello:
		return parseHello(body, ServerHandshake)
	case handshakeHelloRequest:
		return nil, ErrUnsupportedMessage
	default:
		return nil, ErrUnsupportedMessage
	}
}

func parseHello(b []byte, kind HandshakeType) (*Handshake, error) {
	if len(b) < 2+32+1 {
		return nil, ErrBufferTooShort
	}
	h := &Handshake{Type: kind}
	h.Version = binary.BigEndian.Uint16(b[0:2])
	if kind == ClientHandshake {
		h.VersionLabel = clientVersionLabels[h.Version]
	} else {
		h.VersionLabel = serverVersionLabels[h.Version]
	}

	off := 2 + 32 // version + random

	sessionIDLen := int(b[off])
	off++
	off += sessionIDLen
	if off > len(b) {
		return nil, ErrBufferTooShort
	}

	if kind == ClientHandshake {
		if off+2 > len(b) {
			return nil, ErrBufferTooShort
		}
		cipherLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if off+cipherLen > len(b) {
			return nil, ErrBufferTooShort
		}
		for i := 0; i+1 < cipherLen; i += 2 {
			v := binary.BigEndian.Uint16(b[off+i : off+i+2])
			if !IsGREASE(v) {
				h.CipherSuites = append(h.CipherSuites, v)
			}
		}
		off += cipherLen

		if off >= len(b) {
			return nil, ErrBufferTooShort
		}
		compLen := int(b[off])
		off++
		off += compLen
	} else {
		// ServerHello selects exactly one cipher suite.
		if off+2 > len(b) {
			return nil, ErrBufferTooShort
		}
		v := binary.BigEndian.Uint16(b[off : off+2])
		if !IsGREASE(v) {
			h.CipherSuites = append(h.CipherSuites, v)
		}
		off += 2
		off++ // compression method, always null (0)
	}

	if off+2 > len(b) {
		// extensions are optional
		return h, nil
	}
	extTotalLen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+extTotalLen > len(b) {
		extTotalLen = len(b) - off
	}
	parseExtensions(b[off:off+extTotalLen], h)

	return h, nil
}

func parseExtensions(b []byte, h *Handshake) {
	off := 0
	for off+4 <= len(b) {
		extType := binary.BigEndian.Uint16(b[off : off+2])
		extLen := int(binary.BigEndian.Uint16(b[off+2 : off+4]))
		off += 4
		if off+extLen > len(b) {
			extLen = len(b) - off
		}
		payload := b[off : off+extLen]
		off += extLen

		if !IsGREASE(extType) {
			h.Extensions = append(h.Extensions, extType)
		}

		switch extType {
		case 0:
			h.SNI = parseSNI(payload)
		case 10:
			h.EllipticCurves = parseUint16List(payload)
		case 11:
			h.EllipticCurvePF = parseUint8List(payload)
		case 16:
			h.ALPN = parseALPN(payload)
		}
	}
}

func parseSNI(b []byte) string {
	if len(b) < 2 {
		return ""
	}
	listLen := int(binary.BigEndian.Uint16(b[0:2]))
	p := b[2:]
	if listLen > len(p) {
		listLen = len(p)
	}
	p = p[:listLen]
	for len(p) >= 3 {
		entryType := p[0]
		entryLen := int(binary.BigEndian.Uint16(p[1:3]))
		p = p[3:]
		if entryLen > len(p) {
			entryLen = len(p)
		}
		if entryType == 0 { // host_name
			return string(p[:entryLen])
		}
		p = p[entryLen:]
	}
	return ""
}

func parseALPN(b []byte) string {
	if len(b) < 2 {
		return ""
	}
	listLen := int(binary.BigEndian.Uint16(b[0:2]))
	p := b[2:]
	if listLen > len(p) {
		listLen = len(p)
	}
	p = p[:listLen]
	if len(p) < 1 {
		return ""
	}
	protoLen := int(p[0])
	p = p[1:]
	if protoLen > len(p) {
		protoLen = len(p)
	}
	return string(p[:protoLen])
}

// parseUint16List reads a 2-byte length-prefixed list of uint16 GREASE-
// filterable values, used for the supported_groups (elliptic curves)
// extension.
func parseUint16List(b []byte) []uint16 {
	if len(b) < 2 {
		return nil
	}
	listLen := int(binary.BigEndian.Uint16(b[0:2]))
	p := b[2:]
	if listLen > len(p) {
		listLen = len(p)
	}
	p = p[:listLen]
	out := make([]uint16, 0, listLen/2)
	for i := 0; i+1 < len(p); i += 2 {
		v := binary.BigEndian.Uint16(p[i : i+2])
		if !IsGREASE(v) {
			out = append(out, v)
		}
	}
	return out
}

// parseUint8List reads a 1-byte length-prefixed list of single-byte values,
// used for the ec_point_formats extension.
func parseUint8List(b []byte) []uint8 {
	if len(b) < 1 {
		return nil
	}
	listLen := int(b[0])
	p := b[1:]
	if listLen > len(p) {
		listLen = len(p)
	}
	out := make([]uint8, listLen)
	copy(out, p[:listLen])
	return out
}
