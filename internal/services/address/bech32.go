package address

import "fmt"

// bech32 implements BIP-173 bech32 encoding. No wired dependency offers bare
// bech32 without also pulling in a chain-specific SDK (dropped per the
// signing-dependency reduction), so the ~40-line reference algorithm is
// reproduced directly rather than reintroducing one of those SDKs for a
// pure encoding step.

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

func bech32Polymod(values []byte) uint32 {
	generators := [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= generators[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, byte(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c)&31)
	}
	return out
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := append(bech32HRPExpand(hrp), data...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := bech32Polymod(values) ^ 1
	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return checksum
}

// convertBits re-groups a byte slice from fromBits-wide to toBits-wide
// groups, as required before bech32-encoding arbitrary byte payloads.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := uint32(0)
	bits := uint(0)
	var out []byte
	maxv := uint32(1)<<toBits - 1
	for _, b := range data {
		if b>>fromBits != 0 {
			return nil, fmt.Errorf("invalid data range for convertBits")
		}
		acc = acc<<fromBits | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, fmt.Errorf("invalid padding in convertBits")
	}
	return out, nil
}

// bech32Encode encodes payload (arbitrary-width bytes, e.g. a 20-byte hash)
// under the given human-readable prefix, e.g. "zil".
func bech32Encode(hrp string, payload []byte) (string, error) {
	data, err := convertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	checksum := bech32CreateChecksum(hrp, data)
	combined := append(data, checksum...)
	out := hrp + "1"
	for _, b := range combined {
		out += string(bech32Charset[b])
	}
	return out, nil
}
