package flowcore

import "testing"

func TestCompileTemplateAndRunRoundTrip(t *testing.T) {
	fields := []TemplateField{
		{ElementID: 7, Length: 2},  // sourceTransportPort
		{ElementID: 11, Length: 2}, // destinationTransportPort
		{ElementID: 4, Length: 1},  // protocolIdentifier
		{ElementID: 8, Length: 4},  // sourceIPv4Address
		{ElementID: 12, Length: 4}, // destinationIPv4Address
	}

	seq, extList, err := CompileTemplate(256, fields)
	if err != nil {
		t.Fatalf("CompileTemplate: %v", err)
	}
	wantExts := map[Extension]bool{ExGenericFlow: true, ExIPv4Flow: true}
	if len(extList) != len(wantExts) {
		t.Fatalf("extList = %v, want 2 extensions", extList)
	}
	for _, e := range extList {
		if !wantExts[e] {
			t.Fatalf("unexpected extension %v in published list", e)
		}
	}

	wire := []byte{
		0x1F, 0x90, // srcPort 8080
		0x00, 0x50, // dstPort 80
		0x06,                   // protocol TCP
		10, 0, 0, 1, // srcIP
		10, 0, 0, 2, // dstIP
	}

	outBuf := make([]byte, 256)
	h := AddV3Header(outBuf)
	stack := make([]uint64, 8)

	consumed, res := seq.Run(wire, outBuf, h, stack)
	if res != SeqOK {
		t.Fatalf("Run result = %v, want SeqOK", res)
	}
	if consumed != len(wire) {
		t.Fatalf("consumed = %d, want %d", consumed, len(wire))
	}
	if !VerifyV3Record(outBuf[:h.Size]) {
		t.Fatal("produced record fails VerifyV3Record")
	}

	// Locate the genericFlow and ipv4Flow element bodies and check the
	// transcoded values.
	offset := v3HeaderSize
	for offset < int(h.Size) {
		tag := uint16(outBuf[offset])<<8 | uint16(outBuf[offset+1])
		elen := uint16(outBuf[offset+2])<<8 | uint16(outBuf[offset+3])
		body := outBuf[offset+elementHeaderSize : offset+int(elen)]

		switch tag {
		case extensionTable[ExGenericFlow].WireTag:
			if got := uint16(body[genericFlowSrcPortOff])<<8 | uint16(body[genericFlowSrcPortOff+1]); got != 8080 {
				t.Errorf("srcPort = %d, want 8080", got)
			}
			if got := uint16(body[genericFlowDstPortOff])<<8 | uint16(body[genericFlowDstPortOff+1]); got != 80 {
				t.Errorf("dstPort = %d, want 80", got)
			}
			if body[genericFlowProtoOff] != 6 {
				t.Errorf("protocol = %d, want 6", body[genericFlowProtoOff])
			}
		case extensionTable[ExIPv4Flow].WireTag:
			if got := [4]byte{body[0], body[1], body[2], body[3]}; got != [4]byte{10, 0, 0, 1} {
				t.Errorf("srcIP = %v, want [10 0 0 1]", got)
			}
			if got := [4]byte{body[4], body[5], body[6], body[7]}; got != [4]byte{10, 0, 0, 2} {
				t.Errorf("dstIP = %v, want [10 0 0 2]", got)
			}
		}

		offset += int(elen)
	}
}

func TestSequencerRunDetectsShortInput(t *testing.T) {
	fields := []TemplateField{{ElementID: 8, Length: 4}, {ElementID: 12, Length: 4}}
	seq, _, err := CompileTemplate(257, fields)
	if err != nil {
		t.Fatalf("CompileTemplate: %v", err)
	}

	outBuf := make([]byte, 256)
	h := AddV3Header(outBuf)
	stack := make([]uint64, 8)

	// Only enough bytes for the first field.
	_, res := seq.Run([]byte{10, 0, 0, 1}, outBuf, h, stack)
	if res != SeqOverrun {
		t.Fatalf("Run result = %v, want SeqOverrun for truncated input", res)
	}
}

func TestSequencerRunDetectsOutputOverflow(t *testing.T) {
	fields := []TemplateField{{ElementID: 8, Length: 4}}
	seq, _, err := CompileTemplate(258, fields)
	if err != nil {
		t.Fatalf("CompileTemplate: %v", err)
	}

	tooSmall := make([]byte, v3HeaderSize+1)
	h := AddV3Header(tooSmall)
	stack := make([]uint64, 8)

	_, res := seq.Run([]byte{10, 0, 0, 1}, tooSmall, h, stack)
	if res != SeqMemErr {
		t.Fatalf("Run result = %v, want SeqMemErr", res)
	}
}

func TestSequencerSkipsUnrecognizedElement(t *testing.T) {
	fields := []TemplateField{
		{ElementID: 9999, Length: 6}, // unrecognized, must be skipped not rejected
		{ElementID: 8, Length: 4},
	}
	seq, extList, err := CompileTemplate(259, fields)
	if err != nil {
		t.Fatalf("CompileTemplate: %v", err)
	}
	if len(extList) != 1 || extList[0] != ExIPv4Flow {
		t.Fatalf("extList = %v, want [ExIPv4Flow]", extList)
	}

	wire := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 10, 0, 0, 1}
	outBuf := make([]byte, 256)
	h := AddV3Header(outBuf)
	stack := make([]uint64, 8)

	consumed, res := seq.Run(wire, outBuf, h, stack)
	if res != SeqOK {
		t.Fatalf("Run result = %v, want SeqOK", res)
	}
	if consumed != len(wire) {
		t.Fatalf("consumed = %d, want %d", consumed, len(wire))
	}
}

func TestSequencerVariableLengthField(t *testing.T) {
	fields := []TemplateField{{ElementID: 315, Length: VarLength}} // dataLinkFrameSection
	seq, extList, err := CompileTemplate(260, fields)
	if err != nil {
		t.Fatalf("CompileTemplate: %v", err)
	}
	if len(extList) != 1 || extList[0] != ExPayload {
		t.Fatalf("extList = %v, want [ExPayload]", extList)
	}

	payload := []byte{1, 2, 3, 4, 5}
	wire := append([]byte{byte(len(payload))}, payload...)

	outBuf := make([]byte, 256)
	h := AddV3Header(outBuf)
	stack := make([]uint64, 8)

	consumed, res := seq.Run(wire, outBuf, h, stack)
	if res != SeqOK {
		t.Fatalf("Run result = %v, want SeqOK", res)
	}
	if consumed != len(wire) {
		t.Fatalf("consumed = %d, want %d", consumed, len(wire))
	}
	if !VerifyV3Record(outBuf[:h.Size]) {
		t.Fatal("variable-length record fails VerifyV3Record")
	}
}

func TestSequencerSubTemplateListRecursion(t *testing.T) {
	child, _, err := CompileTemplate(300, []TemplateField{{ElementID: 8, Length: 4}})
	if err != nil {
		t.Fatalf("CompileTemplate child: %v", err)
	}

	parent, _, err := CompileTemplate(261, []TemplateField{
		{ElementID: uint16(subTemplateList), Length: VarLength},
	})
	if err != nil {
		t.Fatalf("CompileTemplate parent: %v", err)
	}
	parent.Siblings[300] = child

	// subTemplateList wire layout: [semantic byte][templateID u16][fields...]
	childFields := []byte{10, 0, 0, 1}
	inner := append([]byte{0x01, 0x01, 0x2C}, childFields...) // templateID 300 = 0x012C
	wire := append([]byte{byte(len(inner))}, inner...)

	outBuf := make([]byte, 256)
	h := AddV3Header(outBuf)
	stack := make([]uint64, 8)

	_, res := parent.Run(wire, outBuf, h, stack)
	if res != SeqOK {
		t.Fatalf("Run result = %v, want SeqOK", res)
	}
	if !VerifyV3Record(outBuf[:h.Size]) {
		t.Fatal("record with nested sub-template fails VerifyV3Record")
	}
}

func TestSequencerNestDepthExceeded(t *testing.T) {
	seq := &Sequencer{TemplateID: 1, Siblings: map[uint16]*Sequencer{}}
	outBuf := make([]byte, 64)
	h := AddV3Header(outBuf)
	stack := make([]uint64, 8)

	_, res := seq.run([]byte{1, 2, 3}, outBuf, h, stack, maxNestDepth+1)
	if res != SeqError {
		t.Fatalf("run at excessive depth = %v, want SeqError", res)
	}
}

func TestCompactMergesAdjacentSkips(t *testing.T) {
	seqs := []Sequence{
		{ExtensionID: ExNull, InputLength: 2},
		{ExtensionID: ExNull, InputLength: 3},
		{ExtensionID: ExGenericFlow, InputLength: 2, OutputLength: 2, OffsetRel: 16},
		{ExtensionID: ExNull, InputLength: 1},
	}
	out := compact(seqs)
	if len(out) != 3 {
		t.Fatalf("compact produced %d sequences, want 3", len(out))
	}
	if out[0].InputLength != 5 {
		t.Fatalf("merged skip length = %d, want 5", out[0].InputLength)
	}
}
