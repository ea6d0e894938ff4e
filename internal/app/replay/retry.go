package replay

import (
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// retryFor calls do every delay until it reports success or duration has
// passed. do receives the time left. It returns whether do succeeded.
func retryFor(do func(time.Duration) bool, delay, duration time.Duration) bool {
	if delay <= 0 {
		delay = time.Millisecond
	}
	attempts := uint(duration/delay) + 1

	start := time.Now()
	err := retry.Do(func() error {
		timeLeft := duration - time.Since(start)
		if !do(timeLeft) {
			return errors.New("retry")
		}
		return nil
	},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return err != nil && time.Since(start) < duration
		}),
	)
	return err == nil
}
