package contracts

import (
	"fmt"
	"time"
)

// DeliveryMode selects the durable or volatile publication path
type DeliveryMode int

const (
	NonPersistent DeliveryMode = 1
	Persistent    DeliveryMode = 2
)

// String implements fmt.Stringer
func (m DeliveryMode) String() string {
	switch m {
	case NonPersistent:
		return "non_persistent"
	case Persistent:
		return "persistent"
	default:
		return fmt.Sprintf("DeliveryMode(%d)", int(m))
	}
}

// Validate checks the mode is one of the two legal values
func (m DeliveryMode) Validate() error {
	if m != NonPersistent && m != Persistent {
		return fmt.Errorf("%w: delivery mode %d", ErrInvalidArgument, int(m))
	}
	return nil
}

// AckMode controls when delivered messages are considered consumed
type AckMode int

const (
	// SessionTransacted is reported by transacted sessions
	SessionTransacted AckMode = 0
	// AutoAcknowledge acknowledges each message before Receive returns
	AutoAcknowledge AckMode = 1
	// ClientAcknowledge leaves acknowledgment to the application
	ClientAcknowledge AckMode = 2
	// DupsOKAcknowledge behaves like AutoAcknowledge
	DupsOKAcknowledge AckMode = 3
)

// String implements fmt.Stringer
func (m AckMode) String() string {
	switch m {
	case SessionTransacted:
		return "transacted"
	case AutoAcknowledge:
		return "auto"
	case ClientAcknowledge:
		return "client"
	case DupsOKAcknowledge:
		return "dups_ok"
	default:
		return fmt.Sprintf("AckMode(%d)", int(m))
	}
}

// AutoAcks reports whether every delivery is acknowledged implicitly
func (m AckMode) AutoAcks() bool {
	return m == AutoAcknowledge || m == DupsOKAcknowledge
}

const (
	MinPriority     = 0
	MaxPriority     = 9
	DefaultPriority = 4

	DefaultDeliveryMode = Persistent
	DefaultTimeToLive   = time.Duration(0)
)

// ValidatePriority checks priority is within [0,9]
func ValidatePriority(priority int) error {
	if priority < MinPriority || priority > MaxPriority {
		return fmt.Errorf("%w: priority %d outside [%d,%d]", ErrInvalidArgument, priority, MinPriority, MaxPriority)
	}
	return nil
}

// ValidateTimeToLive checks ttl is not negative
func ValidateTimeToLive(ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: time to live %v is negative", ErrInvalidArgument, ttl)
	}
	return nil
}
