package accumulator

// assemble rebuilds the raw response from the low byte of each payload word.
func (cfg *DecodeConfig) assemble(payload []uint32) uint64 {
	var raw uint64
	if cfg.BigEndian {
		for _, w := range payload {
			raw = raw<<8 | uint64(w&0xff)
		}
		return raw
	}
	for i := len(payload) - 1; i >= 0; i-- {
		raw = raw<<8 | uint64(payload[i]&0xff)
	}
	return raw
}

func (cfg *DecodeConfig) valid(raw uint64) bool {
	return raw&cfg.ValidMask == cfg.ValidValue
}

// extract pulls the data field out of a raw response, sign extending it if configured.
func (cfg *DecodeConfig) extract(raw uint64) int64 {
	modulus := uint64(1) << cfg.DataBits
	data := (raw >> cfg.DataShift) & (modulus - 1)
	if cfg.Signed && data&(modulus>>1) != 0 {
		return int64(data) - int64(modulus)
	}
	return int64(data)
}

// Encode builds the payload bytes of a valid response carrying data. Bits of data that fall on
// ValidMask can make the response invalid.
func (cfg *DecodeConfig) Encode(data int64) []byte {
	modulus := uint64(1) << cfg.DataBits
	raw := cfg.ValidValue | (uint64(data)&(modulus-1))<<cfg.DataShift
	n := cfg.TransferWords - 1
	payload := make([]byte, n)
	for i := 0; i < n; i++ {
		b := byte(raw >> (8 * i))
		if cfg.BigEndian {
			payload[n-1-i] = b
		} else {
			payload[i] = b
		}
	}
	return payload
}
