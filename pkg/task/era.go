package task

import (
	"fmt"
	"strings"
)

// Era partitions the task registry. Every block is processed by exactly one era's tasks.
type Era int

const (
	EraGenesis Era = iota
	EraByron
	EraMultiEra
)

// Eras returns every era in processing order.
func Eras() []Era {
	return []Era{EraGenesis, EraByron, EraMultiEra}
}

// String returns the lower case era name.
func (e Era) String() string {
	switch e {
	case EraGenesis:
		return "genesis"
	case EraByron:
		return "byron"
	case EraMultiEra:
		return "multiera"
	default:
		return fmt.Sprintf("era(%d)", int(e))
	}
}

// ParseEra parses an era name as printed by Era.String.
func ParseEra(s string) (Era, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "genesis":
		return EraGenesis, nil
	case "byron":
		return EraByron, nil
	case "multiera", "multi-era", "shelley":
		return EraMultiEra, nil
	default:
		return 0, fmt.Errorf("unknown era %q", s)
	}
}
