package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pomogator/relay/internal/models"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		acc  models.Account
		want Verdict
	}{
		{name: "VIP с нулевым балансом", acc: models.Account{IsVIP: true, TrialBalance: 0}, want: AllowFree},
		{name: "VIP с балансом", acc: models.Account{IsVIP: true, TrialBalance: 5}, want: AllowFree},
		{name: "есть бесплатные сообщения", acc: models.Account{TrialBalance: 1}, want: AllowTrial},
		{name: "баланс исчерпан", acc: models.Account{TrialBalance: 0}, want: Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.acc))
		})
	}
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "allow_free", AllowFree.String())
	assert.Equal(t, "allow_trial", AllowTrial.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "deny", Verdict(42).String())
}
