package service

import (
	"strings"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// RuleKind names the eligibility rule that admitted a ticket.
type RuleKind string

const (
	RuleLinkedSet    RuleKind = "LINKED_SET"
	RuleGroupMatch   RuleKind = "GROUP_MATCH"
	RuleUnrestricted RuleKind = "UNRESTRICTED"
)

// EligibilityRule is one entry of the resolver's ordered rule list.
type EligibilityRule interface {
	Kind() RuleKind
	Matches(tpl *model.ClassTemplate, ut *model.UserTicket) bool
}

// LinkedSet admits tickets explicitly linked to the class.
type LinkedSet struct{}

func (LinkedSet) Kind() RuleKind { return RuleLinkedSet }

func (LinkedSet) Matches(tpl *model.ClassTemplate, ut *model.UserTicket) bool {
	for _, id := range tpl.LinkedTicketIDs {
		if id == ut.TicketID {
			return true
		}
	}
	return false
}

// GroupMatch admits tickets whose access group equals the class's group.
type GroupMatch struct{}

func (GroupMatch) Kind() RuleKind { return RuleGroupMatch }

func (GroupMatch) Matches(tpl *model.ClassTemplate, ut *model.UserTicket) bool {
	want, have := group(tpl.AccessGroup), group(ut.AccessGroup)
	return want != "" && have != "" && want == have
}

// Unrestricted admits any public ticket on sale when the class declares
// neither a group nor a linked set.
type Unrestricted struct{}

func (Unrestricted) Kind() RuleKind { return RuleUnrestricted }

func (Unrestricted) Matches(tpl *model.ClassTemplate, ut *model.UserTicket) bool {
	if group(tpl.AccessGroup) != "" || len(tpl.LinkedTicketIDs) > 0 {
		return false
	}
	return ut.IsOnSale && ut.IsPublic
}

func group(g *string) string {
	if g == nil {
		return ""
	}
	return strings.TrimSpace(*g)
}

// DefaultRules is the fixed precedence: explicit linkage first, then the
// coarse group code, then the open class fallback.
func DefaultRules() []EligibilityRule {
	return []EligibilityRule{LinkedSet{}, GroupMatch{}, Unrestricted{}}
}

// AccessResolver decides whether a ticket may be spent on a class.
type AccessResolver struct {
	rules []EligibilityRule
}

// NewAccessResolver returns a resolver over rules, or DefaultRules when none
// are given.
func NewAccessResolver(rules ...EligibilityRule) *AccessResolver {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &AccessResolver{rules: rules}
}

// Resolve returns the first rule admitting ut for tpl. A ticket of another
// academy is always rejected before any rule is consulted.
func (r *AccessResolver) Resolve(tpl *model.ClassTemplate, ut *model.UserTicket) (RuleKind, error) {
	if ut.AcademyID != tpl.AcademyID {
		return "", newError(KindEligibility, ReasonCrossAcademy,
			"ticket %d belongs to academy %d, class %d to academy %d", ut.ID, ut.AcademyID, tpl.ID, tpl.AcademyID)
	}
	for _, rule := range r.rules {
		if rule.Matches(tpl, ut) {
			return rule.Kind(), nil
		}
	}
	return "", newError(KindEligibility, ReasonIneligible, "ticket %d cannot be used for class %d", ut.ID, tpl.ID)
}
