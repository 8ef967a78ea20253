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
	"time"
)

// Set IDs that carry templates rather than data: NetFlow v9 uses 0 and 1,
// IPFIX uses 2 and 3. Any other set ID names a data set's template.
const (
	SetIDTemplateSetV9        = 0
	SetIDOptionsTemplateSetV9 = 1
	SetIDTemplateSet          = 2
	SetIDOptionsTemplateSet   = 3
)

// MessageHeader is the common prefix of a NetFlow v9 or IPFIX message. Field
// meaning differs slightly by version: v9's Count is a record count and
// carries SysUptime; IPFIX's Count is the total message byte length and has
// no SysUptime field.
type MessageHeader struct {
	Version             uint16
	Count               uint16
	SysUptime           uint32
	ExportTime          uint32
	SequenceNumber      uint32
	ObservationDomainId uint32
}

func decodeMessageHeader(r *Reader) (*MessageHeader, error) {
	h := &MessageHeader{Version: r.GetU16()}
	switch h.Version {
	case 9:
		h.Count = r.GetU16()
		h.SysUptime = r.GetU32()
		h.ExportTime = r.GetU32()
		h.SequenceNumber = r.GetU32()
		h.ObservationDomainId = r.GetU32()
	case 10:
		h.Count = r.GetU16() // total message length for IPFIX
		h.ExportTime = r.GetU32()
		h.SequenceNumber = r.GetU32()
		h.ObservationDomainId = r.GetU32()
	default:
		return nil, UnknownVersion(h.Version)
	}
	if r.IsError() {
		return nil, ErrShortSnapshot
	}
	return h, nil
}

// Decoder holds the mutable state a stream of NetFlow v9/IPFIX messages
// needs across packets: the template cache, exporter table, and stat
// updater.
type Decoder struct {
	Templates *TemplateCache
	Exporters *ExporterTable
	Stats     *StatUpdater

	// outRecordSize bounds the scratch buffer allocated per output v3
	// record. NewDecoder sets it to the flat 1024 bytes of nfxV3.c's
	// CalcOutRecordSize heuristic, and it is used for every template,
	// fixed-length or not.
	outRecordSize int
}

// NewDecoder creates a Decoder with a template cache aged out after
// timeout.
func NewDecoder(timeout time.Duration) *Decoder {
	return &Decoder{
		Templates:     NewTemplateCache(timeout),
		Exporters:     NewExporterTable(),
		Stats:         NewStatUpdater(),
		outRecordSize: 1024,
	}
}

// DecodeMessage decodes one NetFlow v9 or IPFIX UDP payload from exporter
// exp into a slice of v3 record byte slices. Template and options-template
// sets update the Decoder's caches as a side effect and contribute no
// records to the returned slice.
func (d *Decoder) DecodeMessage(packet []byte, exp *Exporter) ([][]byte, error) {
	start := time.Now()
	defer func() {
		DurationMicroseconds.Observe(float64(time.Since(start).Microseconds()))
	}()

	r := NewReader(packet)
	h, err := decodeMessageHeader(r)
	if err != nil {
		ErrorsTotal.Inc()
		return nil, err
	}
	if exp != nil {
		exp.ObserveSequence(h.SequenceNumber)
	}

	var out [][]byte
	for r.Available() >= 4 {
		setID := r.GetU16()
		setLen := r.GetU16()
		if r.IsError() || int(setLen) < 4 {
			ErrorsTotal.Inc()
			return out, ErrShortSnapshot
		}
		bodyLen := int(setLen) - 4
		if r.Available() < bodyLen {
			ErrorsTotal.Inc()
			return out, ErrShortSnapshot
		}
		body := r.Bytes(bodyLen)

		switch {
		case setID == SetIDTemplateSet || setID == SetIDTemplateSetV9:
			DecodedSets.WithLabelValues("template").Inc()
			d.decodeTemplateSet(body, h.ObservationDomainId)
		case setID == SetIDOptionsTemplateSet || setID == SetIDOptionsTemplateSetV9:
			DecodedSets.WithLabelValues("options_template").Inc()
			d.decodeOptionsTemplateSet(body, h.ObservationDomainId, h.Version)
		default:
			DecodedSets.WithLabelValues("data").Inc()
			recs, err := d.decodeDataSet(setID, body, h.ObservationDomainId)
			out = append(out, recs...)
			DecodedRecords.WithLabelValues("flow").Add(float64(len(recs)))
			if err != nil {
				ErrorsTotal.Inc()
				DroppedRecords.WithLabelValues("flow").Inc()
				return out, err
			}
		}
	}
	return out, nil
}

func (d *Decoder) decodeTemplateSet(body []byte, domain uint32) {
	r := NewReader(body)
	for r.Available() >= 4 {
		templateID := r.GetU16()
		fieldCount := r.GetU16()
		if r.IsError() {
			return
		}
		fields := make([]TemplateField, 0, fieldCount)
		for i := 0; i < int(fieldCount); i++ {
			raw := r.GetU16()
			length := r.GetU16()
			if r.IsError() {
				return
			}
			var pen uint32
			elementID := raw &^ 0x8000
			if IsEnterpriseField(raw) {
				pen = r.GetU32()
				if r.IsError() {
					return
				}
			}
			fields = append(fields, TemplateField{ElementID: elementID, PEN: pen, Length: length})
		}
		seq, _, err := CompileTemplate(templateID, fields)
		if err != nil {
			continue
		}
		d.Templates.Put(NewTemplateKey(domain, templateID), seq)
	}
}

func (d *Decoder) decodeOptionsTemplateSet(body []byte, domain uint32, version uint16) {
	r := NewReader(body)
	for r.Available() >= 6 {
		templateID := r.GetU16()
		var fieldCount, scopeFieldCount uint16
		if version == 9 {
			scopeFieldCount = r.GetU16()
			fieldCount = r.GetU16()
		} else {
			fieldCount = r.GetU16()
			scopeFieldCount = r.GetU16()
		}
		if r.IsError() || scopeFieldCount == 0 {
			return
		}
		optionsCount := int(fieldCount) - int(scopeFieldCount)
		if version == 9 {
			// NetFlow v9 counts scope and option fields separately; its
			// fieldCount is the option-field count alone.
			optionsCount = int(fieldCount)
		}
		if optionsCount < 0 {
			return
		}

		layout := make([]optionLayoutEntry, 0, int(scopeFieldCount)+optionsCount)
		offset := 0
		total := int(scopeFieldCount) + optionsCount
		for i := 0; i < total; i++ {
			raw := r.GetU16()
			length := r.GetU16()
			if r.IsError() {
				return
			}
			elementID := raw &^ 0x8000
			if IsEnterpriseField(raw) {
				r.GetU32() // enterprise number, not used for option scopes
				if r.IsError() {
					return
				}
			}
			if tag, ok := optionTagTable[elementID]; ok {
				layout = append(layout, optionLayoutEntry{tag: tag, offset: offset, length: int(length)})
			}
			offset += int(length)
		}
		d.Templates.PutOption(NewTemplateKey(domain, templateID), layout)
	}
}

func (d *Decoder) decodeDataSet(setID uint16, body []byte, domain uint32) ([][]byte, error) {
	key := NewTemplateKey(domain, setID)
	entry, ok := d.Templates.Get(key)
	if !ok {
		return nil, TemplateNotFound(key)
	}
	if entry.IsOption {
		d.decodeOptionsRecord(body, entry)
		return nil, nil
	}

	stack := make([]uint64, 16)
	var out [][]byte
	remaining := body
	for len(remaining) > 0 {
		buf := make([]byte, v3HeaderSize+d.outRecordSize)
		hdr := AddV3Header(buf)

		consumed, res := entry.Sequencer.Run(remaining, buf, hdr, stack)
		if res == SeqMemErr {
			SequencerErrorsTotal.WithLabelValues("mem_err").Inc()
			return out, ErrOutputBufferTooSmall
		}
		if res == SeqOverrun {
			SequencerErrorsTotal.WithLabelValues("overrun").Inc()
			return out, ErrSequencerOverrun
		}
		if res != SeqOK || consumed == 0 {
			SequencerErrorsTotal.WithLabelValues("error").Inc()
			return out, ErrSequenceFailure
		}
		rec := buf[:hdr.Size]
		out = append(out, rec)
		if _, found, jerr := ExtractJA3(rec); found && jerr != nil {
			ErrorsTotal.Inc()
		}
		if consumed > len(remaining) {
			break
		}
		remaining = remaining[consumed:]
	}
	return out, nil
}

// decodeOptionsRecord interprets one options-template data record using the
// layout compiled for its template and returns the fields it recognizes as
// an OptionsRecord. It updates no exporter, sampler, interface, VRF or NBAR
// state, and decodeDataSet discards the returned record.
func (d *Decoder) decodeOptionsRecord(body []byte, entry *TemplateEntry) *OptionsRecord {
	if len(entry.optionLayout) == 0 {
		return nil
	}
	scope := entry.optionLayout[0].tag.scope
	rec := &OptionsRecord{Scope: scope}
	for _, e := range entry.optionLayout {
		if e.offset+e.length > len(body) {
			continue
		}
		rec.Fields = append(rec.Fields, OptionField{Name: e.tag.field, Value: body[e.offset : e.offset+e.length]})
	}
	return rec
}
