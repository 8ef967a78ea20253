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
	"context"
)

// Collector consumes RawPacket values off one or more listeners' Messages()
// channels, peeks the wire version, and routes the payload to the v9/IPFIX
// Decoder or to the matching legacy NetFlow v1/v5/v7 decoder. Decoded v3
// records are written to Records; every input source is read concurrently,
// and Run returns once every source's reader has stopped, either because ctx
// was canceled (packets still buffered in the channel are not read) or
// because the source channel was closed.
type Collector struct {
	Decoder *Decoder
	Stats   *StatUpdater

	Records chan [][]byte
}

// NewCollector creates a Collector sharing decoder's template/exporter
// state and stats' protocol counters across every legacy and v9/IPFIX
// packet it routes.
func NewCollector(decoder *Decoder, stats *StatUpdater) *Collector {
	return &Collector{
		Decoder: decoder,
		Stats:   stats,
		Records: make(chan [][]byte, 64),
	}
}

// Run reads from every source until ctx is canceled, decoding each packet
// and pushing its records onto c.Records. Each source is drained by its own
// goroutine so a slow decode on one listener cannot stall another.
func (c *Collector) Run(ctx context.Context, sources ...<-chan RawPacket) {
	logger := FromContext(ctx)

	done := make(chan struct{}, len(sources))
	for _, src := range sources {
		go func(src <-chan RawPacket) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case pkt, ok := <-src:
					if !ok {
						return
					}
					recs, err := c.route(pkt)
					if err != nil {
						logger.Error(err, "failed to decode packet", "source", pkt.Addr.String())
						continue
					}
					if len(recs) == 0 {
						continue
					}
					select {
					case c.Records <- recs:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src)
	}

	for range sources {
		<-done
	}
}

// route peeks pkt's wire version and dispatches it to the decoder that
// understands it, creating or reusing the (source IP, version) Exporter for
// sequence-continuity and sampler tracking.
func (c *Collector) route(pkt RawPacket) ([][]byte, error) {
	if len(pkt.Payload) < 2 {
		return nil, ErrShortSnapshot
	}
	version := uint16(pkt.Payload[0])<<8 | uint16(pkt.Payload[1])

	exp := c.Decoder.Exporters.GetOrCreate(ExporterKey{SourceIP: pkt.Addr, Version: version})

	switch version {
	case 1:
		return DecodeNetflowV1(pkt.Payload, exp, c.Stats)
	case 5:
		return DecodeNetflowV5(pkt.Payload, exp, c.Stats)
	case 7:
		return DecodeNetflowV7(pkt.Payload, exp, c.Stats)
	case 9, 10:
		return c.Decoder.DecodeMessage(pkt.Payload, exp)
	default:
		return nil, UnknownVersion(version)
	}
}
