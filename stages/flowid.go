package stages

import (
	"fmt"
	"io"
	mrand "math/rand"
	"math/rand/v2"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

const (
	// FlowIDHeader carries the id of the request to the backend and
	// back to the client.
	FlowIDHeader = "X-Flow-Id"

	flowIDAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ-+"
	alphabetBitMask = 63
	MaxLength       = 64
	MinLength       = 8
	defaultLen      = 16
)

var (
	ErrInvalidLen       = fmt.Errorf("invalid length, must be between %d and %d", MinLength, MaxLength)
	standardFlowIDRegex = regexp.MustCompile(`^[0-9a-zA-Z+-]+$`)
)

// Generator creates request ids.
type Generator interface {
	// Generate returns a new id or an error in case of failure.
	Generate() (string, error)

	// IsValid tells whether an incoming id has the format of this
	// generator, and can be reused.
	IsValid(string) bool
}

// NewGenerator returns the generator by name: uuid, ulid or standard.
func NewGenerator(name string) (Generator, error) {
	switch name {
	case "", "uuid":
		return NewUUIDGenerator(), nil
	case "ulid":
		return NewULIDGenerator(), nil
	case "standard":
		return NewStandardGenerator(defaultLen)
	default:
		return nil, fmt.Errorf("unknown flow id generator: %s", name)
	}
}

type uuidGenerator struct{}

// NewUUIDGenerator creates random (version 4) UUIDs.
func NewUUIDGenerator() Generator { return uuidGenerator{} }

func (uuidGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func (uuidGenerator) IsValid(id string) bool {
	return uuid.Validate(id) == nil
}

type ulidGenerator struct {
	sync.Mutex
	r io.Reader
}

func NewULIDGenerator() Generator {
	return NewULIDGeneratorWithEntropy(mrand.New(mrand.NewSource(time.Now().UTC().UnixNano())))
}

func NewULIDGeneratorWithEntropy(r io.Reader) Generator {
	return &ulidGenerator{r: r}
}

func (g *ulidGenerator) Generate() (string, error) {
	g.Lock()
	id, err := ulid.New(ulid.Now(), g.r)
	g.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (g *ulidGenerator) IsValid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

type standardGenerator struct {
	length int
}

// NewStandardGenerator creates a new generator of ids with length l,
// from a 64 character alphabet. It is safe for concurrent use.
func NewStandardGenerator(l int) (Generator, error) {
	if l < MinLength || l > MaxLength {
		return nil, ErrInvalidLen
	}

	return &standardGenerator{length: l}, nil
}

// Generate maps the bits of a single random int64 to up to 10
// characters of 6 bits each.
func (g *standardGenerator) Generate() (string, error) {
	u := make([]byte, g.length)
	for i := 0; i < g.length; i += 10 {
		b := rand.Int64() // #nosec
		for e := 0; e < 10 && i+e < g.length; e++ {
			c := byte(b>>uint(6*e)) & alphabetBitMask // 6 bits only
			u[i+e] = flowIDAlphabet[c]
		}
	}

	return string(u), nil
}

func (g *standardGenerator) IsValid(id string) bool {
	return len(id) >= MinLength && len(id) <= MaxLength && standardFlowIDRegex.MatchString(id)
}
