package flowcore_test

import (
	"fmt"
	"time"

	"github.com/flowcore/flowcore"
)

// ExampleDecoder demonstrates decoding an IPFIX template set followed by a
// data set sharing the same template ID, the minimal round trip a collector
// needs to turn wire bytes into v3 records.
func ExampleDecoder() {
	d := flowcore.NewDecoder(5 * time.Minute)

	// Template set: one field, sourceIPv4Address (IE 8, 4 bytes).
	templateMsg := []byte{
		0x00, 0x0a, // version 10 (IPFIX)
		0x00, 0x1c, // total message length (28 bytes)
		0x00, 0x00, 0x00, 0x00, // export time
		0x00, 0x00, 0x00, 0x01, // sequence number
		0x00, 0x00, 0x00, 0x01, // observation domain id
		0x00, 0x00, // set id 0 (template set)
		0x00, 0x0c, // set length
		0x01, 0x00, // template id 256
		0x00, 0x01, // field count 1
		0x00, 0x08, // element id 8 (sourceIPv4Address)
		0x00, 0x04, // field length 4
	}
	if _, err := d.DecodeMessage(templateMsg, nil); err != nil {
		fmt.Println("template decode error:", err)
		return
	}

	dataMsg := []byte{
		0x00, 0x0a,
		0x00, 0x18, // total message length (24 bytes)
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x01,
		0x01, 0x00, // set id 256, matches the template above
		0x00, 0x08, // set length (4 header + 4 field bytes)
		0x0a, 0x00, 0x00, 0x01, // 10.0.0.1
	}
	records, err := d.DecodeMessage(dataMsg, nil)
	if err != nil {
		fmt.Println("data decode error:", err)
		return
	}

	fmt.Println(len(records), flowcore.VerifyV3Record(records[0]))
	// Output: 1 true
}
