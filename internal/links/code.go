package links

import (
	"math/rand/v2"
	"sync"
	"time"
)

// CodeGenerator produces candidate share codes. Candidates carry no uniqueness guarantee.
type CodeGenerator interface {
	GenerateCode() Code
}

// RandomCodeGenerator draws independent decimal digits from a random source.
type RandomCodeGenerator struct {
	mu     sync.Mutex
	source *rand.Rand
}

// NewRandomCodeGenerator constructs a generator. A nil source uses the runtime-seeded global generator.
func NewRandomCodeGenerator(source *rand.Rand) *RandomCodeGenerator {
	return &RandomCodeGenerator{source: source}
}

// GenerateCode returns CodeLength random decimal digits.
func (generator *RandomCodeGenerator) GenerateCode() Code {
	digits := make([]byte, CodeLength)
	generator.mu.Lock()
	defer generator.mu.Unlock()
	for index := range digits {
		digits[index] = byte('0' + generator.intN(10))
	}
	return Code(digits)
}

func (generator *RandomCodeGenerator) intN(n int) int {
	if generator.source == nil {
		return rand.IntN(n)
	}
	return generator.source.IntN(n)
}

// GenerateExpirationTime returns now plus LinkLifetime at millisecond precision.
func GenerateExpirationTime(now time.Time) time.Time {
	return now.UTC().Truncate(time.Millisecond).Add(LinkLifetime)
}
