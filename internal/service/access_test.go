package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkaykim/moveit-sub006/internal/model"
)

func strp(s string) *string { return &s }

func TestAccessResolverPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		tpl      model.ClassTemplate
		ticket   model.UserTicket
		want     RuleKind
		wantFail Reason
	}{
		{
			name:   "linked set wins even when groups differ",
			tpl:    model.ClassTemplate{AcademyID: 1, AccessGroup: strp("popup"), LinkedTicketIDs: []uint64{10}},
			ticket: model.UserTicket{AcademyID: 1, TicketID: 10, AccessGroup: strp("regular")},
			want:   RuleLinkedSet,
		},
		{
			name:   "group match when ticket is not in the linked set",
			tpl:    model.ClassTemplate{AcademyID: 1, AccessGroup: strp("workshop"), LinkedTicketIDs: []uint64{10}},
			ticket: model.UserTicket{AcademyID: 1, TicketID: 11, AccessGroup: strp("workshop")},
			want:   RuleGroupMatch,
		},
		{
			name:     "group codes are case sensitive",
			tpl:      model.ClassTemplate{AcademyID: 1, AccessGroup: strp("popup")},
			ticket:   model.UserTicket{AcademyID: 1, TicketID: 11, AccessGroup: strp("Popup"), IsOnSale: true, IsPublic: true},
			wantFail: ReasonIneligible,
		},
		{
			name:   "unrestricted class accepts public on-sale ticket",
			tpl:    model.ClassTemplate{AcademyID: 1},
			ticket: model.UserTicket{AcademyID: 1, TicketID: 12, IsOnSale: true, IsPublic: true},
			want:   RuleUnrestricted,
		},
		{
			name:     "unrestricted class rejects private ticket",
			tpl:      model.ClassTemplate{AcademyID: 1},
			ticket:   model.UserTicket{AcademyID: 1, TicketID: 12, IsOnSale: true, IsPublic: false},
			wantFail: ReasonIneligible,
		},
		{
			name:     "linked class rejects unlinked ticket without group",
			tpl:      model.ClassTemplate{AcademyID: 1, LinkedTicketIDs: []uint64{10}},
			ticket:   model.UserTicket{AcademyID: 1, TicketID: 12, IsOnSale: true, IsPublic: true},
			wantFail: ReasonIneligible,
		},
		{
			name:     "group class rejects ticket with another group",
			tpl:      model.ClassTemplate{AcademyID: 1, AccessGroup: strp("advanced")},
			ticket:   model.UserTicket{AcademyID: 1, TicketID: 12, AccessGroup: strp("general"), IsOnSale: true, IsPublic: true},
			wantFail: ReasonIneligible,
		},
		{
			name:     "group class rejects ticket without group",
			tpl:      model.ClassTemplate{AcademyID: 1, AccessGroup: strp("advanced")},
			ticket:   model.UserTicket{AcademyID: 1, TicketID: 12, IsOnSale: true, IsPublic: true},
			wantFail: ReasonIneligible,
		},
		{
			name:     "cross academy is rejected even when linked",
			tpl:      model.ClassTemplate{AcademyID: 1, LinkedTicketIDs: []uint64{10}},
			ticket:   model.UserTicket{AcademyID: 2, TicketID: 10},
			wantFail: ReasonCrossAcademy,
		},
	}

	resolver := NewAccessResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(&tt.tpl, &tt.ticket)
			if tt.wantFail != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantFail, ReasonOf(err))
				assert.Equal(t, KindEligibility, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccessResolverCustomRules(t *testing.T) {
	// a resolver without the fallback only honours explicit linkage
	resolver := NewAccessResolver(LinkedSet{})
	_, err := resolver.Resolve(&model.ClassTemplate{AcademyID: 1}, &model.UserTicket{AcademyID: 1, IsOnSale: true, IsPublic: true})
	require.ErrorIs(t, err, ErrIneligible)
}
