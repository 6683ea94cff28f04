package native

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// pulseResetLine drives chip/line low then high, a hard reset for boards
// whose firmware only enters its bootloader on a physical reset/boot-select
// pin rather than the soft "BOOTLOADER\n" command.
func pulseResetLine(chip string, line int) error {
	l, err := gpiocdev.RequestLine(chip, line, gpiocdev.AsOutput(0))
	if err != nil {
		return fmt.Errorf("request %s:%d: %w", chip, line, err)
	}
	defer l.Close()

	time.Sleep(50 * time.Millisecond)
	return l.SetValue(1)
}
