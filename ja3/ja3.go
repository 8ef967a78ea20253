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

package ja3

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// String builds the canonical JA3 string for h: SSLVersion,Cipher(s)-
// hyphenated,Extension(s)-hyphenated[,EllipticCurve(s)-hyphenated,
// EllipticCurvePointFormat(s)-hyphenated], following ja3Process.
// ServerHello handshakes (JA3S) omit the last two fields, since a server
// response carries neither curves nor point formats.
func String(h *Handshake) string {
	var b strings.Builder

	b.WriteString(strconv.Itoa(int(h.Version)))
	b.WriteByte(',')
	writeHyphenated(&b, h.CipherSuites)
	b.WriteByte(',')
	writeHyphenated(&b, h.Extensions)

	if h.Type == ClientHandshake {
		b.WriteByte(',')
		writeHyphenated(&b, h.EllipticCurves)
		b.WriteByte(',')
		writeHyphenatedU8(&b, h.EllipticCurvePF)
	}

	return b.String()
}

func writeHyphenated(b *strings.Builder, vals []uint16) {
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
}

func writeHyphenatedU8(b *strings.Builder, vals []uint8) {
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
}

// Digest computes the JA3 fingerprint: the lowercase hex-encoded MD5 digest
// of the canonical JA3 string, per ja3String/ja3Process.
func Digest(h *Handshake) (canonical string, fingerprint string) {
	canonical = String(h)
	sum := md5.Sum([]byte(canonical))
	return canonical, hex.EncodeToString(sum[:])
}
