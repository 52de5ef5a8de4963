package backoff

import (
	"math"
	"math/rand"
)

// Supported policies. The default for retries is plain exponential; jittered
// variants exist to spread redeliveries when many workers nack at once.
const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Compute returns a redelivery delay in seconds for the given attempt number.
// attempts counts deliveries already made, so the first retry passes 1.
func Compute(policy string, baseSeconds, maxSeconds, attempts int, rng *rand.Rand) int {
	if attempts < 0 {
		attempts = 0
	}
	if baseSeconds <= 0 {
		baseSeconds = 1
	}
	if maxSeconds <= 0 {
		maxSeconds = baseSeconds
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	exp := func() int {
		d := int(float64(baseSeconds) * math.Pow(2, float64(attempts)))
		if d > maxSeconds || d <= 0 {
			return maxSeconds
		}
		return d
	}

	switch policy {
	case PolicyFixed:
		return min(baseSeconds, maxSeconds)
	case PolicyLinear:
		return min(baseSeconds*max(1, attempts), maxSeconds)
	case PolicyExpEqualJitter:
		half := exp() / 2
		return half + rng.Intn(half+1)
	case PolicyExpFullJitter:
		d := exp()
		if d <= 0 {
			return 0
		}
		return rng.Intn(d + 1)
	default: // exponential
		return exp()
	}
}
