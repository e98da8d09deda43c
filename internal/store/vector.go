package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"

	"autotool/internal/logging"

	sqlite "modernc.org/sqlite"
)

func init() {
	// Cosine distance for the pure-Go driver; sqlite-vec provides its own
	// vec_distance_cosine when built with the sqlite_vec tag.
	_ = sqlite.RegisterDeterministicScalarFunction("vector_distance_cos", 2, vecDistanceCos)
}

// distanceFunctions are probed in order by DistanceFunction.
var distanceFunctions = []string{"vec_distance_cosine", "vector_distance_cos"}

// DistanceFunction returns the name of a SQL cosine-distance function usable
// on db, or "" when similarity must be computed in Go.
func DistanceFunction(db *sql.DB) string {
	probe := EncodeVector([]float32{1, 0})
	for _, fn := range distanceFunctions {
		var d float64
		if err := db.QueryRow(fmt.Sprintf("SELECT %s(?, ?)", fn), probe, probe).Scan(&d); err == nil {
			logging.StoreDebug("Using SQL distance function %s", fn)
			return fn
		}
	}
	logging.StoreDebug("No SQL distance function available; computing similarity in process")
	return ""
}

// EncodeVector packs vec as little-endian float32s.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a blob written by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func vecDistanceCos(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vector_distance_cos expects 2 arguments")
	}
	a, err := decodeValue(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeValue(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vector_distance_cos: dimension mismatch %d vs %d", len(a), len(b))
	}
	return 1 - CosineSimilarity(a, b), nil
}

func decodeValue(v driver.Value) ([]float32, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return DecodeVector(x)
	case string:
		return DecodeVector([]byte(x))
	default:
		return nil, fmt.Errorf("unsupported vector type %T", v)
	}
}
