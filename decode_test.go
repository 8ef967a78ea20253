package flowcore

import (
	"testing"
	"time"
)

func buildTemplateSet(templateID uint16, fields []TemplateField) []byte {
	var body []byte
	body = appendU16(body, templateID)
	body = appendU16(body, uint16(len(fields)))
	for _, f := range fields {
		body = appendU16(body, f.ElementID)
		body = appendU16(body, f.Length)
	}
	var set []byte
	set = appendU16(set, SetIDTemplateSet)
	set = appendU16(set, uint16(4+len(body)))
	set = append(set, body...)
	return set
}

func buildDataSet(templateID uint16, record []byte) []byte {
	var set []byte
	set = appendU16(set, templateID)
	set = appendU16(set, uint16(4+len(record)))
	set = append(set, record...)
	return set
}

func buildIPFIXMessage(exportTime, seqNum, domain uint32, sets ...[]byte) []byte {
	var body []byte
	for _, s := range sets {
		body = append(body, s...)
	}
	totalLen := 16 + len(body)

	var msg []byte
	msg = appendU16(msg, 10) // version
	msg = appendU16(msg, uint16(totalLen))
	msg = appendU32(msg, exportTime)
	msg = appendU32(msg, seqNum)
	msg = appendU32(msg, domain)
	msg = append(msg, body...)
	return msg
}

func TestDecodeMessageTemplateThenData(t *testing.T) {
	d := NewDecoder(time.Minute)

	fields := []TemplateField{
		{ElementID: 7, Length: 2},
		{ElementID: 11, Length: 2},
		{ElementID: 4, Length: 1},
		{ElementID: 8, Length: 4},
		{ElementID: 12, Length: 4},
	}
	templateSet := buildTemplateSet(256, fields)

	var record []byte
	record = appendU16(record, 1234) // srcPort
	record = appendU16(record, 80)   // dstPort
	record = append(record, 6)       // protocol TCP
	record = appendU32(record, 0x0A000001)
	record = appendU32(record, 0x0A000002)
	dataSet := buildDataSet(256, record)

	msg1 := buildIPFIXMessage(1_700_000_000, 1, 1, templateSet)
	recs1, err := d.DecodeMessage(msg1, nil)
	if err != nil {
		t.Fatalf("DecodeMessage (template only): %v", err)
	}
	if len(recs1) != 0 {
		t.Fatalf("template-only message produced %d records, want 0", len(recs1))
	}

	if _, ok := d.Templates.Get(NewTemplateKey(1, 256)); !ok {
		t.Fatal("template 256 not installed after decoding template set")
	}

	msg2 := buildIPFIXMessage(1_700_000_001, 2, 1, dataSet)
	recs2, err := d.DecodeMessage(msg2, nil)
	if err != nil {
		t.Fatalf("DecodeMessage (data): %v", err)
	}
	if len(recs2) != 1 {
		t.Fatalf("len(recs2) = %d, want 1", len(recs2))
	}
	if !VerifyV3Record(recs2[0]) {
		t.Fatal("decoded data record fails VerifyV3Record")
	}
}

func TestDecodeMessageUnknownTemplateErrors(t *testing.T) {
	d := NewDecoder(time.Minute)

	dataSet := buildDataSet(999, []byte{1, 2, 3, 4})
	msg := buildIPFIXMessage(1_700_000_000, 1, 1, dataSet)

	_, err := d.DecodeMessage(msg, nil)
	if err == nil {
		t.Fatal("expected TemplateNotFound error for an undefined template id")
	}
}

func TestDecodeMessageRejectsUnknownVersion(t *testing.T) {
	d := NewDecoder(time.Minute)
	bad := []byte{0x00, 0x02, 0x00, 0x00} // version 2, not supported here
	_, err := d.DecodeMessage(bad, nil)
	if err == nil {
		t.Fatal("expected an error for an unsupported message version")
	}
}

func TestDecodeMessageMultipleTemplatesIsolatedByDomain(t *testing.T) {
	d := NewDecoder(time.Minute)
	fields := []TemplateField{{ElementID: 8, Length: 4}}
	templateSet := buildTemplateSet(300, fields)

	msgDomain1 := buildIPFIXMessage(1, 1, 1, templateSet)
	msgDomain2 := buildIPFIXMessage(1, 1, 2, templateSet)

	if _, err := d.DecodeMessage(msgDomain1, nil); err != nil {
		t.Fatalf("decode domain 1: %v", err)
	}
	if _, err := d.DecodeMessage(msgDomain2, nil); err != nil {
		t.Fatalf("decode domain 2: %v", err)
	}

	if _, ok := d.Templates.Get(NewTemplateKey(1, 300)); !ok {
		t.Fatal("template missing for domain 1")
	}
	if _, ok := d.Templates.Get(NewTemplateKey(2, 300)); !ok {
		t.Fatal("template missing for domain 2")
	}
}

func TestDecodeOptionsTemplateAndRecord(t *testing.T) {
	d := NewDecoder(time.Minute)

	// IPFIX options template: templateID, fieldCount(total), scopeFieldCount,
	// then scope fields followed by option fields.
	var body []byte
	body = appendU16(body, 400) // templateID
	body = appendU16(body, 2)   // fieldCount (total)
	body = appendU16(body, 1)   // scopeFieldCount
	body = appendU16(body, 10)  // scope field: ingressInterface (not in optionTagTable, just a scope placeholder)
	body = appendU16(body, 4)
	body = appendU16(body, 302) // option field: samplerId
	body = appendU16(body, 2)

	var set []byte
	set = appendU16(set, SetIDOptionsTemplateSet)
	set = appendU16(set, uint16(4+len(body)))
	set = append(set, body...)

	msg := buildIPFIXMessage(1, 1, 1, set)
	if _, err := d.DecodeMessage(msg, nil); err != nil {
		t.Fatalf("decode options template: %v", err)
	}

	entry, ok := d.Templates.Get(NewTemplateKey(1, 400))
	if !ok {
		t.Fatal("options template 400 not installed")
	}
	if !entry.IsOption {
		t.Fatal("template 400 not marked as an options template")
	}

	var record []byte
	record = appendU32(record, 1) // scope field value (4 bytes, ingressInterface)
	record = appendU16(record, 7) // samplerId value
	dataSet := buildDataSet(400, record)

	msg2 := buildIPFIXMessage(1, 2, 1, dataSet)
	recs, err := d.DecodeMessage(msg2, nil)
	if err != nil {
		t.Fatalf("decode options data: %v", err)
	}
	if recs != nil {
		t.Fatalf("options data set unexpectedly produced flow records: %v", recs)
	}
}
