package flowcore

// IsEnterpriseField reports whether a raw wire field id carries the
// enterprise bit, meaning a 4-byte PEN follows before the field length.
func IsEnterpriseField(fieldId uint16) bool {
	return fieldId>>15 == 1
}
