package types

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// VectorPrecision selects the floating-point width used to decode VECTOR
// element text into Go values. float32 is the default per the element
// precision being a source-level config knob rather than a wire detail.
type VectorPrecision int

const (
	// VectorFloat32 decodes vector elements as float32 (default).
	VectorFloat32 VectorPrecision = iota
	// VectorFloat64 decodes vector elements as float64.
	VectorFloat64
)

// VectorCodec implements pgtype.Codec for the VECTOR logical type. Only the
// text format is supported — binary vector transfer has no stable wire
// representation to standardize on, so binary requests fall back to text
// per §4.3 of the type registry contract.
type VectorCodec struct {
	Precision VectorPrecision
}

// FormatSupported implements pgtype.Codec.
func (c *VectorCodec) FormatSupported(format int16) bool {
	return format == pgtype.TextFormatCode
}

// PreferredFormat implements pgtype.Codec.
func (c *VectorCodec) PreferredFormat() int16 {
	return pgtype.TextFormatCode
}

// PlanEncode implements pgtype.Codec.
func (c *VectorCodec) PlanEncode(m *pgtype.Map, oid uint32, format int16, value any) pgtype.EncodePlan {
	if format != pgtype.TextFormatCode {
		return nil
	}

	switch value.(type) {
	case []float32, []float64, string:
		return vectorEncodePlan{}
	default:
		return nil
	}
}

// PlanScan implements pgtype.Codec.
func (c *VectorCodec) PlanScan(m *pgtype.Map, oid uint32, format int16, target any) pgtype.ScanPlan {
	if format != pgtype.TextFormatCode {
		return nil
	}
	return vectorScanPlan{precision: c.Precision}
}

// DecodeDatabaseSQLValue implements pgtype.Codec.
func (c *VectorCodec) DecodeDatabaseSQLValue(m *pgtype.Map, oid uint32, format int16, src []byte) (driver.Value, error) {
	if src == nil {
		return nil, nil
	}
	return string(src), nil
}

// DecodeValue implements pgtype.Codec.
func (c *VectorCodec) DecodeValue(m *pgtype.Map, oid uint32, format int16, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}

	elems, err := ParseVectorLiteral(string(src))
	if err != nil {
		return nil, err
	}

	if c.Precision == VectorFloat64 {
		out := make([]float64, len(elems))
		for i, e := range elems {
			out[i] = float64(e)
		}
		return out, nil
	}

	return elems, nil
}

type vectorEncodePlan struct{}

func (vectorEncodePlan) Encode(value any, buf []byte) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return append(buf, v...), nil
	case []float32:
		return append(buf, FormatVectorLiteral(v)...), nil
	case []float64:
		narrowed := make([]float32, len(v))
		for i, e := range v {
			narrowed[i] = float32(e)
		}
		return append(buf, FormatVectorLiteral(narrowed)...), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as vector", value)
	}
}

type vectorScanPlan struct {
	precision VectorPrecision
}

func (p vectorScanPlan) Scan(src []byte, dst any) error {
	elems, err := ParseVectorLiteral(string(src))
	if err != nil {
		return err
	}

	switch d := dst.(type) {
	case *[]float32:
		*d = elems
		return nil
	case *[]float64:
		out := make([]float64, len(elems))
		for i, e := range elems {
			out[i] = float64(e)
		}
		*d = out
		return nil
	default:
		return fmt.Errorf("cannot scan vector into %T", dst)
	}
}

// FormatVectorLiteral renders elems in the wire text form `[v0,v1,...]`.
func FormatVectorLiteral(elems []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range elems {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(e), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVectorLiteral parses the wire text form `[v0,v1,...]` into its
// elements. An empty vector `[]` is legal. Dimension must be within
// MaxVectorDimension.
func ParseVectorLiteral(text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '[' || text[len(text)-1] != ']' {
		return nil, fmt.Errorf("invalid vector literal: %q", text)
	}

	inner := strings.TrimSpace(text[1 : len(text)-1])
	if inner == "" {
		return []float32{}, nil
	}

	parts := strings.Split(inner, ",")
	if len(parts) > MaxVectorDimension {
		return nil, fmt.Errorf("vector dimension %d exceeds maximum %d", len(parts), MaxVectorDimension)
	}

	elems := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %q: %w", p, err)
		}
		elems[i] = float32(v)
	}

	return elems, nil
}

// DecimalToNumeric converts a shopspring/decimal value into the pgtype
// representation used for the NUMERIC/1700 wire type, preserving exact
// digit-for-digit precision (no float64 round-trip).
func DecimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   d.Coefficient(),
		Exp:   int32(d.Exponent()),
		Valid: true,
	}
}

// NumericToDecimal converts a pgtype NUMERIC value back into a
// shopspring/decimal value. NaN and infinities have no decimal
// representation and return an error.
func NumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Decimal{}, nil
	}
	if n.NaN {
		return decimal.Decimal{}, fmt.Errorf("cannot represent NaN as decimal")
	}
	if n.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, fmt.Errorf("cannot represent infinite numeric as decimal")
	}
	if n.Int == nil {
		return decimal.NewFromFloat(math.NaN()), fmt.Errorf("numeric has no coefficient")
	}

	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}
