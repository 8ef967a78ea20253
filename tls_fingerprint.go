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

import (
	"errors"

	"github.com/flowcore/flowcore/ja3"
)

// JA3Fingerprint is the result of fingerprinting a captured TLS handshake
// carried in a record's payload extension.
type JA3Fingerprint struct {
	Canonical   string
	Fingerprint string
	SNI         string
	ALPN        string
}

// ExtractJA3 looks for a captured TLS ClientHello/ServerHello in record's
// payload extension and, if found, computes its JA3 fingerprint. ok is false
// when the record carries no payload extension or the payload is not a TLS
// handshake; err is non-nil only when a handshake was recognized but could
// not be parsed.
func ExtractJA3(record []byte) (fp *JA3Fingerprint, ok bool, err error) {
	payload, found := FindExtension(record, ExPayload)
	if !found || len(payload) == 0 {
		return nil, false, nil
	}

	h, perr := ja3.Parse(payload)
	if perr != nil {
		if errors.Is(perr, ja3.ErrNotHandshake) || errors.Is(perr, ja3.ErrUnsupportedMessage) {
			return nil, false, nil
		}
		if errors.Is(perr, ja3.ErrBufferTooShort) {
			return nil, true, ErrJA3BufferUnderflow
		}
		return nil, true, perr
	}

	canonical, digest := ja3.Digest(h)
	JA3FingerprintsTotal.Inc()
	return &JA3Fingerprint{
		Canonical:   canonical,
		Fingerprint: digest,
		SNI:         h.SNI,
		ALPN:        h.ALPN,
	}, true, nil
}
