package gate

import (
	"testing"

	"github.com/questline/api/internal/client"
	"github.com/questline/api/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestMayInvokeSkip(t *testing.T) {
	leader := &model.Membership{IsLeader: true}
	member := &model.Membership{IsLeader: false}

	tests := []struct {
		name         string
		membership   *model.Membership
		availability *client.Availability
		want         bool
	}{
		{"leader without signal", leader, nil, true},
		{"leader with open location", leader, &client.Availability{Status: client.StatusOpen}, true},
		{"member with open location", member, &client.Availability{Status: client.StatusOpen}, false},
		{"member with closed location", member, &client.Availability{Status: client.StatusClosed}, true},
		{"member closing in 5 minutes", member, &client.Availability{Status: client.StatusClosingSoon, MinutesRemaining: 5}, true},
		{"member closing exactly at threshold", member, &client.Availability{Status: client.StatusClosingSoon, MinutesRemaining: 10}, true},
		{"member closing in 30 minutes", member, &client.Availability{Status: client.StatusClosingSoon, MinutesRemaining: 30}, false},
		{"member without signal", member, nil, false},
		{"no membership", nil, &client.Availability{Status: client.StatusClosed}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MayInvokeSkip(tt.membership, tt.availability))
		})
	}
}
