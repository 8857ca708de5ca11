package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// forceOrder returns the byte order named by forcedOrder, or order if
// nothing is forced.
func forceOrder(order binary.ByteOrder, forcedOrder string) (binary.ByteOrder, error) {
	switch forcedOrder {
	case "":
		// nothing is forced
		return order, nil
	case "AB", "ABCD", "BADC":
		return binary.BigEndian, nil
	case "BA", "DCBA", "CDAB":
		return binary.LittleEndian, nil
	}
	return nil, fmt.Errorf("forced order %s not known", forcedOrder)
}

// swapWords flips the bytes of each 16-bit word for the mid-endian orders.
// Single registers are left alone.
func swapWords(forcedOrder string, b []byte) []byte {
	if (forcedOrder != "CDAB" && forcedOrder != "BADC") || len(b) < 4 || len(b)%2 != 0 {
		return b
	}
	swapped := make([]byte, len(b))
	for i := 0; i < len(b); i += 2 {
		swapped[i], swapped[i+1] = b[i+1], b[i]
	}
	return swapped
}

func overflow(val float64, eType string) error {
	return fmt.Errorf("overflow: %f does not fit into datatype %s", val, eType)
}

// convertToBytes encodes val as eType. forcedOrder (AB, BA, ABCD, DCBA, BADC,
// CDAB) overrides order.
func convertToBytes(eType string, order binary.ByteOrder, forcedOrder string, val float64) ([]byte, error) {
	fo := strings.ToUpper(forcedOrder)
	order, err := forceOrder(order, fo)
	if err != nil {
		return nil, err
	}

	var buf []byte
	switch eType {
	case "uint16":
		if val > math.MaxUint16 || val < 0 {
			return nil, overflow(val, eType)
		}
		buf = make([]byte, 2)
		order.PutUint16(buf, uint16(val))
	case "int16":
		if val > math.MaxInt16 || val < math.MinInt16 {
			return nil, overflow(val, eType)
		}
		buf = make([]byte, 2)
		order.PutUint16(buf, uint16(int16(val)))
	case "uint32":
		if val > math.MaxUint32 || val < 0 {
			return nil, overflow(val, eType)
		}
		buf = make([]byte, 4)
		order.PutUint32(buf, uint32(val))
	case "int32":
		if val > math.MaxInt32 || val < math.MinInt32 {
			return nil, overflow(val, eType)
		}
		buf = make([]byte, 4)
		order.PutUint32(buf, uint32(int32(val)))
	case "float32":
		if val > math.MaxFloat32 || val < -math.MaxFloat32 {
			return nil, overflow(val, eType)
		}
		buf = make([]byte, 4)
		order.PutUint32(buf, math.Float32bits(float32(val)))
	case "float64":
		buf = make([]byte, 8)
		order.PutUint64(buf, math.Float64bits(val))
	default:
		return nil, fmt.Errorf("unsupported datatype: %s", eType)
	}
	return swapWords(fo, buf), nil
}

// resultToString decodes the register bytes r as varType.
func resultToString(r []byte, order binary.ByteOrder, forcedOrder string, varType string) (string, error) {
	fo := strings.ToUpper(forcedOrder)
	order, err := forceOrder(order, fo)
	if err != nil {
		return "", err
	}
	r = swapWords(fo, r)

	size := map[string]int{
		"uint16": 2, "int16": 2,
		"uint32": 4, "int32": 4, "float32": 4,
		"uint64": 8, "int64": 8, "float64": 8,
	}
	if n, ok := size[varType]; ok && len(r) < n {
		return "", fmt.Errorf("can't convert data with length %d to %s", len(r), varType)
	}

	switch varType {
	case "string":
		return string(r), nil
	case "uint16":
		return strconv.FormatUint(uint64(order.Uint16(r)), 10), nil
	case "int16":
		return strconv.FormatInt(int64(int16(order.Uint16(r))), 10), nil
	case "uint32":
		return strconv.FormatUint(uint64(order.Uint32(r)), 10), nil
	case "int32":
		return strconv.FormatInt(int64(int32(order.Uint32(r))), 10), nil
	case "uint64":
		return strconv.FormatUint(order.Uint64(r), 10), nil
	case "int64":
		return strconv.FormatInt(int64(order.Uint64(r)), 10), nil
	case "float32":
		return fmt.Sprintf("%f", math.Float32frombits(order.Uint32(r))), nil
	case "float64":
		return fmt.Sprintf("%f", math.Float64frombits(order.Uint64(r))), nil
	}
	return "", fmt.Errorf("unsupported datatype: %s", varType)
}

type decodeOrder struct {
	name   string
	order  binary.ByteOrder
	forced string
}

// resultToAllString decodes one or two registers in every common type and
// byte order.
func resultToAllString(result []byte) (string, error) {
	var (
		types  []string
		orders []decodeOrder
	)
	switch len(result) {
	case 2:
		types = []string{"int16", "uint16"}
		orders = []decodeOrder{
			{"Big Endian (AB)", binary.BigEndian, ""},
			{"Little Endian (BA)", binary.LittleEndian, ""},
		}
	case 4:
		types = []string{"int32", "uint32", "float32"}
		orders = []decodeOrder{
			{"Big Endian (ABCD)", binary.BigEndian, ""},
			{"Little Endian (DCBA)", binary.LittleEndian, ""},
			{"Mid-Big Endian (BADC)", binary.BigEndian, "BADC"},
			{"Mid-Little Endian (CDAB)", binary.LittleEndian, "CDAB"},
		}
	default:
		return "", fmt.Errorf("can't convert data with length %d", len(result))
	}

	buf := new(bytes.Buffer)
	w := tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
	for i, typ := range types {
		if i > 0 {
			fmt.Fprintln(w, "\t")
		}
		for _, o := range orders {
			s, err := resultToString(result, o.order, o.forced, typ)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(w, "%s\t%s:\t%s\t\n", strings.ToUpper(typ), o.name, s)
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// resultToRawString prints one line per register: number, bytes in hex and
// in binary.
func resultToRawString(r []byte, startReg int) string {
	var sb strings.Builder
	for i := 0; i < len(r)/2; i++ {
		fmt.Fprintf(&sb, "%d\t0x%02X 0x%02X\t %08b %08b\n", startReg+i, r[i*2], r[i*2+1], r[i*2], r[i*2+1])
	}
	return sb.String()
}

func resultToFile(r []byte, filename string) error {
	return os.WriteFile(filename, r, 0644)
}

// registersToBytes lays the registers out big-endian as on the wire.
func registersToBytes(values []uint16) []byte {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(b[2*i:], v)
	}
	return b
}

func bytesToRegisters(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%d bytes do not fill whole registers", len(b))
	}
	values := make([]uint16, len(b)/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return values, nil
}

// parseValue parses a value to write as eType. Integer types accept the
// 0x, 0o and 0b prefixes.
func parseValue(eType, s string) (float64, error) {
	if eType != "float32" && eType != "float64" {
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return float64(i), nil
		}
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return val, nil
}

// parseUint16 accepts decimal, 0x hex, 0o octal and 0b binary numbers.
func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid 16-bit value %q: %w", s, err)
	}
	return uint16(v), nil
}
