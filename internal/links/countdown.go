package links

import (
	"context"
	"fmt"
	"time"
)

// CountdownInterval is the display refresh period.
const CountdownInterval = time.Second

// Countdown is the remaining lifetime of a link split for display.
type Countdown struct {
	Minutes int
	Seconds int
	Expired bool
}

// TimeLeft computes the countdown at now. Expiry is a pure wall-clock comparison.
func TimeLeft(expiresAt, now time.Time) Countdown {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return Countdown{Expired: true}
	}
	totalSeconds := int(remaining / time.Second)
	return Countdown{
		Minutes: totalSeconds / 60,
		Seconds: totalSeconds % 60,
	}
}

// String renders the countdown as MM:SS.
func (countdown Countdown) String() string {
	if countdown.Expired {
		return "expired"
	}
	return fmt.Sprintf("%02d:%02d", countdown.Minutes, countdown.Seconds)
}

// WatchCountdown calls fn immediately and then every interval until the countdown expires or ctx is done.
// It returns ctx.Err() on cancellation and nil once fn has observed the expired state.
func WatchCountdown(ctx context.Context, expiresAt time.Time, clock func() time.Time, interval time.Duration, fn func(Countdown)) error {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = CountdownInterval
	}
	current := TimeLeft(expiresAt, clock())
	fn(current)
	if current.Expired {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current = TimeLeft(expiresAt, clock())
			fn(current)
			if current.Expired {
				return nil
			}
		}
	}
}
