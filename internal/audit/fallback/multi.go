package fallback

import (
	"context"
	"errors"
	"sync"

	"phiguard/internal/audit"
)

// Multi delivers to every channel concurrently. It fails only if all channels
// fail, since one successful delivery is enough for reconciliation.
type Multi []audit.EmergencyChannel

func (m Multi) Notify(ctx context.Context, entry audit.Entry, cause error) error {
	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, ch := range m {
		if ch == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = ch.Notify(ctx, entry, cause)
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 && failed == m.live() {
		return errors.Join(errs...)
	}
	return nil
}

func (m Multi) live() int {
	n := 0
	for _, ch := range m {
		if ch != nil {
			n++
		}
	}
	return n
}
