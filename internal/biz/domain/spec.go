package domain

// RuleSpec is the raw declarative form of a rule, as parsed from the
// rule source and before validation/compilation into a RuleDefinition.
type RuleSpec struct {
	Name        string
	Description string
	Priority    int
	Enabled     bool
	If          ConditionSpec
	Then        ActionSpec
}

// ConditionSpec holds the unvalidated condition clauses.
type ConditionSpec struct {
	Platform        string
	Sender          string
	ContentContains string
	ContentRegex    string
	TimeRange       string
}

// Empty reports whether no clause is present.
func (c *ConditionSpec) Empty() bool {
	return c.Platform == "" && c.Sender == "" && c.ContentContains == "" &&
		c.ContentRegex == "" && c.TimeRange == ""
}

// ActionSpec holds the unvalidated action fields.
type ActionSpec struct {
	Action         string
	Message        string
	Template       string
	UseAI          bool
	AIPrompt       string
	Target         string
	NotifyChannels []string
}

// Empty reports whether no action is declared.
func (a *ActionSpec) Empty() bool {
	return a.Action == ""
}

// DefaultReplySpec is the optional catch-all reply used when no rule
// matches a message.
type DefaultReplySpec struct {
	Enabled bool
	Message string
}

// RuleDocument is everything a rule source yields in one load: the rule
// list plus the global sender filters and the optional default reply.
type RuleDocument struct {
	Rules        []RuleSpec
	DefaultReply *DefaultReplySpec
	Blacklist    []string
	Whitelist    []string
}
