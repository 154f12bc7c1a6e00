// Package tsid generates time-sorted identifiers for FileFlow entities.
// A TSID packs a 42-bit millisecond timestamp over a 22-bit random tail
// into 64 bits, rendered as 13 Crockford Base32 characters. IDs created
// later sort later, which keeps Mongo _id indexes append-friendly.
package tsid

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

const (
	// Epoch 2020-01-01T00:00:00Z, giving the 42-bit field headroom
	// until roughly 2159.
	tsidEpoch = 1577836800000

	timestampBits = 42
	randomBits    = 22

	alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// ErrInvalidCharacterType is the error type for malformed TSID strings.
type ErrInvalidCharacterType struct{}

func (e ErrInvalidCharacterType) Error() string { return "invalid character in TSID" }

// ErrInvalidCharacter is returned when decoding hits a character outside
// the Crockford alphabet.
var ErrInvalidCharacter = ErrInvalidCharacterType{}

var (
	generator     *Generator
	generatorOnce sync.Once
)

// Generator produces TSIDs. Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	lastTime int64
	counter  uint32
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns a new TSID from the package-level generator.
func Generate() string {
	generatorOnce.Do(func() {
		generator = NewGenerator()
	})
	return generator.Generate()
}

// Generate returns a new 13-character TSID.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli() - tsidEpoch

	var buf [4]byte
	rand.Read(buf[:])
	random := binary.BigEndian.Uint32(buf[:]) & ((1 << randomBits) - 1)

	// Within the same millisecond, a monotonic counter replaces the low
	// random bits so ids cannot collide under burst load.
	if now == g.lastTime {
		g.counter++
		random = (random &^ 0xFFFF) | (g.counter & 0xFFFF)
	} else {
		g.lastTime = now
		g.counter = 0
	}

	return encodeCrockford((uint64(now) << randomBits) | uint64(random))
}

// encodeCrockford renders a uint64 as 13 Crockford Base32 characters.
func encodeCrockford(value uint64) string {
	result := make([]byte, 13)
	for i := 12; i >= 0; i-- {
		result[i] = alphabet[value&0x1F]
		value >>= 5
	}
	return string(result)
}

func decodeCrockford(s string) (uint64, error) {
	var result uint64
	for _, c := range s {
		idx := crockfordIndex(byte(c))
		if idx < 0 {
			return 0, ErrInvalidCharacter
		}
		result = result<<5 | uint64(idx)
	}
	return result, nil
}

// crockfordIndex maps a character to its Base32 value. Crockford decoding
// is forgiving: I/L read as 1, O as 0, and lowercase is accepted.
func crockfordIndex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'H':
		return int(c - 'A' + 10)
	case c >= 'a' && c <= 'h':
		return int(c - 'a' + 10)
	case c == 'I' || c == 'i' || c == 'L' || c == 'l':
		return 1
	case c >= 'J' && c <= 'K':
		return int(c - 'J' + 18)
	case c >= 'j' && c <= 'k':
		return int(c - 'j' + 18)
	case c >= 'M' && c <= 'N':
		return int(c - 'M' + 20)
	case c >= 'm' && c <= 'n':
		return int(c - 'm' + 20)
	case c == 'O' || c == 'o':
		return 0
	case c >= 'P' && c <= 'T':
		return int(c - 'P' + 22)
	case c >= 'p' && c <= 't':
		return int(c - 'p' + 22)
	case c == 'U' || c == 'u':
		return 27
	case c >= 'V' && c <= 'Z':
		return int(c - 'V' + 27)
	case c >= 'v' && c <= 'z':
		return int(c - 'v' + 27)
	default:
		return -1
	}
}

// ToLong converts a TSID string to its int64 representation.
func ToLong(tsid string) (int64, error) {
	value, err := decodeCrockford(tsid)
	if err != nil {
		return 0, err
	}
	return int64(value), nil
}

// ToString converts an int64 back to its TSID string form.
func ToString(value int64) string {
	return encodeCrockford(uint64(value))
}

// GetTimestamp extracts the creation time embedded in a TSID.
func GetTimestamp(tsid string) (time.Time, error) {
	value, err := decodeCrockford(tsid)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(value>>randomBits) + tsidEpoch), nil
}
