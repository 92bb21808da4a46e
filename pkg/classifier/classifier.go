package classifier

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/audisp_filter/pkg/matcher"
	"github.com/haolipeng/audisp_filter/pkg/rules"
	"github.com/haolipeng/audisp_filter/pkg/types"
)

// Mode selects which side of a match survives filtering.
type Mode int

const (
	// ModeAllowlist forwards only events matching none of the rules.
	ModeAllowlist Mode = iota
	// ModeBlocklist forwards only events matching at least one rule.
	ModeBlocklist
)

func (m Mode) String() string {
	switch m {
	case ModeAllowlist:
		return "allowlist"
	case ModeBlocklist:
		return "blocklist"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses the case-insensitive command line mode argument.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "allowlist":
		return ModeAllowlist, nil
	case "blocklist":
		return ModeBlocklist, nil
	default:
		return 0, fmt.Errorf("invalid mode '%s' specified, possible values are: allowlist, blocklist", s)
	}
}

// Decision is the outcome of classifying one event.
type Decision int

const (
	DecisionForward Decision = iota
	DecisionDrop
)

// Classify applies the mode policy to a match result: allowlist drops
// matches, blocklist forwards them.
func Classify(matched bool, mode Mode) Decision {
	if mode == ModeAllowlist {
		if matched {
			return DecisionDrop
		}
		return DecisionForward
	}
	if matched {
		return DecisionForward
	}
	return DecisionDrop
}

// Classifier binds the matching engine to the active rule set and mode. It
// owns registration: rules must be installed through SetRules before the
// first Classify call and again after every successful reload.
type Classifier struct {
	engine matcher.Engine
	mode   Mode
}

func New(engine matcher.Engine, mode Mode) *Classifier {
	return &Classifier{engine: engine, mode: mode}
}

// SetRules clears any engine state left from the previous rule set and
// registers every rule of rs. Rules were validated at load time, so a
// registration failure is unexpected; it is logged and the remaining rules
// are still registered.
func (c *Classifier) SetRules(rs *rules.RuleSet) {
	c.engine.Reset()
	if rs == nil {
		return
	}
	for _, rule := range rs.Rules() {
		if err := c.engine.AddExpression(rule.Expression); err != nil {
			logrus.Errorf("Failed adding '%s' (line %d) to the matching engine: %v",
				rule.Expression, rule.Line, err)
		}
	}
}

// Classify evaluates the event and decides forward or drop. An engine
// evaluation error yields neither: the caller skips the event and reports.
func (c *Classifier) Classify(ev *types.Event) (Decision, bool, error) {
	matched, err := c.engine.EvalEvent(ev)
	if err != nil {
		return 0, false, err
	}
	return Classify(matched, c.mode), matched, nil
}

func (c *Classifier) Mode() Mode {
	return c.mode
}
