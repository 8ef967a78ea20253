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
	"fmt"
)

var (
	ErrUnknownVersion       error = errors.New("unknown version")
	ErrShortSnapshot        error = errors.New("packet too short to decode")
	ErrOutputBufferTooSmall error = errors.New("output buffer too small for record")
	ErrSequencerOverrun     error = errors.New("sequencer read past input bounds")
	ErrSequenceFailure      error = errors.New("sequencer failed to transcode record")
	ErrJA3BufferUnderflow   error = errors.New("ja3 input buffer underflow")
)

func UnknownVersion(version uint16) error {
	return fmt.Errorf("%w %d, only 1, 5, 7, 9, and 10 are supported", ErrUnknownVersion, version)
}
